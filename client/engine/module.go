package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/croessner/batchpost/client/checkpoint"
	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/log"
	"github.com/croessner/batchpost/client/log/level"
	"github.com/croessner/batchpost/client/mapper"
	"github.com/croessner/batchpost/client/session"
	"github.com/croessner/batchpost/client/source"
	"github.com/croessner/batchpost/client/stats"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module provides the fx module for the client engine. It expects a *config.Config.
var Module = fx.Module("engine",
	fx.Provide(
		NewLogger,
		NewRegistry,
		NewRecorder,
		NewStore,
		NewBatches,
		NewApp,
	),
	fx.Invoke(registerMetricsServer),
)

// NewLogger provides the process logger on stdout.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	logLevel, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	return log.SetupLogging(os.Stdout, logLevel, cfg.Log.JSON, log.UseColor(cfg.Log.Color, os.Stdout), cfg.Instance), nil
}

func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func NewRecorder(reg *prometheus.Registry) stats.Recorder {
	return stats.New(reg)
}

// NewStore opens the checkpoint backend and closes it when the application stops.
func NewStore(lifecycle fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (checkpoint.Store, error) {
	store, err := checkpoint.Open(context.Background(), cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	level.Info(logger).Log(
		definitions.LogKeyMsg, "checkpoint store opened",
		definitions.LogKeyBackend, cfg.Checkpoint.Backend,
		"path", cfg.Checkpoint.Path,
	)

	lifecycle.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return store.Close()
		},
	})

	return store, nil
}

// NewBatches loads every configured batch source. Each batch gets a mapper for its own field
// rules; all mappers share the lookup resolvers.
func NewBatches(cfg *config.Config, logger *slog.Logger) ([]Batch, error) {
	if cfg.Mode == definitions.ModeProbe {
		return nil, nil
	}

	lookupClient := &http.Client{
		Transport: session.NewTransport(cfg.Session.TLSVerify, cfg.Session.Tracing),
		Timeout:   cfg.Session.RequestTimeout,
	}

	resolvers, err := mapper.Resolvers(cfg, lookupClient)
	if err != nil {
		return nil, err
	}

	batches := make([]Batch, 0, len(cfg.Batches))

	for _, section := range cfg.Batches {
		src, err := source.Open(section.Path, source.Options{
			Delimiter: section.Delimiter,
			Sheet:     section.Sheet,
			Limit:     section.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", section.Name, err)
		}

		fieldMapper, err := mapper.NewRuleMapper(cfg.BatchFields(section), resolvers)
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", section.Name, err)
		}

		level.Info(logger).Log(
			definitions.LogKeyMsg, "batch loaded",
			definitions.LogKeyBatch, section.Name,
			definitions.LogKeyTotal, src.Len(),
			definitions.LogKeyEndpoint, cfg.BatchTarget(section),
		)

		batches = append(batches, Batch{
			Name:   section.Name,
			Target: cfg.BatchTarget(section),
			Source: src,
			Mapper: fieldMapper,
		})
	}

	return batches, nil
}

// NewSessionManager builds the session manager for one batch.
func NewSessionManager(cfg *config.Config, logger *slog.Logger) *session.Manager {
	return session.NewManager(session.Options{
		LoginURL:          cfg.LoginURL,
		Username:          cfg.Username,
		Password:          cfg.Password,
		UsernameField:     cfg.Session.UsernameField,
		PasswordField:     cfg.Session.PasswordField,
		Timeout:           cfg.Session.RequestTimeout,
		UserAgent:         cfg.Session.UserAgent,
		LoginAcceptStatus: cfg.Session.LoginAcceptStatus,
		MaxBodyBytes:      cfg.Session.MaxBodyBytes,
		Classifier: session.NewMarkerClassifier(session.Markers{
			LoginPathIndicators:  cfg.Session.LoginPathIndicators,
			LoginPageMarkers:     cfg.Session.LoginPageMarkers,
			AuthenticatedMarkers: cfg.Session.AuthenticatedMarkers,
			ExpiredPhrases:       cfg.Session.ExpiredPhrases,
		}),
		Transport: session.NewTransport(cfg.Session.TLSVerify, cfg.Session.Tracing),
		Logger:    logger,
	})
}

// NewGovernor builds the pacer for one batch.
func NewGovernor(cfg *config.Config) *governor.Governor {
	return governor.New(governor.Options{
		InterDelayMin:  cfg.Rate.InterDelayMin,
		InterDelayMax:  cfg.Rate.InterDelayMax,
		BurstSize:      cfg.Rate.BurstSize,
		BurstPause:     cfg.Rate.BurstPause,
		BackoffInitial: cfg.Rate.BackoffInitial,
		BackoffMax:     cfg.Rate.BackoffMax,
	})
}

// registerMetricsServer serves /metrics while the application runs, if an address is set.
func registerMetricsServer(lifecycle fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Metrics.Address == "" {
		return
	}

	if logLevel, _ := log.ParseLevel(cfg.Log.Level); logLevel != definitions.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	gin.DisableConsoleColor()

	srv := stats.NewServer(cfg.Metrics.Address, reg)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
			if err != nil {
				return err
			}

			level.Info(logger).Log(definitions.LogKeyMsg, "serving metrics", definitions.LogKeyEndpoint, listener.Addr().String())

			go func() {
				if err := srv.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					level.Error(logger).Log(definitions.LogKeyMsg, "metrics server failed", definitions.LogKeyError, err)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
