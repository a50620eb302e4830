package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/engine"
	"github.com/croessner/batchpost/client/log"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(definitions.ExitConfig)
	}

	if cfg.ShowVersion {
		fmt.Printf("%s %s\n", definitions.InstanceName, definitions.Version)

		return
	}

	os.Exit(run(cfg))
}

// run drives the fx lifecycle by hand so that a signal still ends with the engine's exit code.
func run(cfg *config.Config) int {
	var app *engine.App

	fxApp := fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return log.NewFxEventLogger(logger)
		}),
		engine.Module,
		fx.Populate(&app),
		fx.Invoke(runApp),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), fxApp.StartTimeout())
	defer cancelStart()

	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		return definitions.ExitConfig
	}

	<-fxApp.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancelStop()

	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}

	return app.ExitCode()
}

func runApp(lifecycle fx.Lifecycle, app *engine.App, shutdown fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)

				if err := app.Run(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}

				_ = shutdown.Shutdown()
			}()

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			app.Stop()

			select {
			case <-done:
			case <-stopCtx.Done():
				cancel()
				<-done
			}

			printReports(app)

			return nil
		},
	})
}

func printReports(app *engine.App) {
	printer := engine.NewPrinter(os.Stdout, log.UseColor(app.Config.Log.Color, os.Stdout))

	if app.Config.Mode == definitions.ModeProbe {
		printer.Probe(app.ProbeReports())

		return
	}

	printer.Batches(app.Reports())
}
