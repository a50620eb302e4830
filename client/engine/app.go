package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/croessner/batchpost/client/checkpoint"
	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/log/level"
	"github.com/croessner/batchpost/client/session"
	"github.com/croessner/batchpost/client/stats"

	"github.com/segmentio/ksuid"
)

// App runs the configured batches one after another. Every batch gets a fresh session and pacer.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    checkpoint.Store
	Batches  []Batch
	Recorder stats.Recorder

	// NewSession and NewPacer build the per-batch collaborators.
	NewSession func() *session.Manager
	NewPacer   func() *governor.Governor

	RunID string

	mu      sync.Mutex
	reports []*Report
	probes  []*ProbeReport

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewApp(cfg *config.Config, logger *slog.Logger, store checkpoint.Store, batches []Batch, recorder stats.Recorder) *App {
	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Batches:    batches,
		Recorder:   recorder,
		NewSession: func() *session.Manager { return NewSessionManager(cfg, logger) },
		NewPacer:   func() *governor.Governor { return NewGovernor(cfg) },
		RunID:      ksuid.New().String(),
		stopChan:   make(chan struct{}),
	}
}

// Stop asks the run to end after the record in flight. It is safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case <-a.stopChan:
		cancel()
	default:
	}

	go func() {
		select {
		case <-a.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	level.Info(a.Logger).Log(
		definitions.LogKeyMsg, "run started",
		definitions.LogKeyRunID, a.RunID,
		"mode", a.Config.Mode,
		"batches", len(a.Batches),
	)

	if a.Config.Mode == definitions.ModeProbe {
		a.runProbes(ctx)

		return nil
	}

	for _, batch := range a.Batches {
		if ctx.Err() != nil {
			break
		}

		driver := NewDriver(a.NewSession(), a.Store, a.NewPacer(), DriverOptions{
			RunID:          a.RunID,
			Instance:       a.Config.Instance,
			AcceptStatus:   a.Config.Session.SubmitAcceptStatus,
			RejectMarkers:  markers(a.Config.Session.RejectMarkers),
			NetworkRetries: a.Config.Rate.NetworkRetries,
			ReloginDelay:   a.Config.Session.ReloginDelay,
			Logger:         a.Logger,
			Recorder:       a.Recorder,
		})

		report := driver.Run(ctx, batch)

		a.mu.Lock()
		a.reports = append(a.reports, report)
		a.mu.Unlock()
	}

	return nil
}

// Reports returns the batch reports collected so far.
func (a *App) Reports() []*Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]*Report(nil), a.reports...)
}

// runProbes measures the session lifetime once per configured count, each run with a fresh
// session and pacer.
func (a *App) runProbes(ctx context.Context) {
	for _, count := range a.Config.Probe.RunCounts() {
		if ctx.Err() != nil {
			return
		}

		report := Probe(ctx, a.NewSession(), a.NewPacer(), ProbeOptions{
			RunID:        a.RunID,
			Target:       a.Config.TargetURL,
			Count:        count,
			Relogin:      a.Config.Probe.Relogin,
			ReloginDelay: a.Config.Session.ReloginDelay,
			Logger:       a.Logger,
		})

		a.mu.Lock()
		a.probes = append(a.probes, report)
		a.mu.Unlock()
	}
}

// ProbeReports returns the probe runs finished so far.
func (a *App) ProbeReports() []*ProbeReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]*ProbeReport(nil), a.probes...)
}

// ExitCode is ExitOK only when every configured batch completed.
func (a *App) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Config.Mode == definitions.ModeProbe {
		if len(a.probes) < len(a.Config.Probe.RunCounts()) {
			return definitions.ExitHalted
		}

		for _, report := range a.probes {
			if report.Failed() {
				return definitions.ExitHalted
			}
		}

		return definitions.ExitOK
	}

	if len(a.reports) < len(a.Batches) {
		return definitions.ExitHalted
	}

	for _, report := range a.reports {
		if report.Halted() {
			return definitions.ExitHalted
		}
	}

	return definitions.ExitOK
}

func markers(in []string) [][]byte {
	out := make([][]byte, 0, len(in))

	for _, marker := range in {
		out = append(out, []byte(marker))
	}

	return out
}
