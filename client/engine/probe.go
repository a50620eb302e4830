package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/log/level"
	"github.com/croessner/batchpost/client/session"
)

// ProbeSession is the part of session.Manager a probe needs.
type ProbeSession interface {
	Login(ctx context.Context) error
	Get(ctx context.Context, target string) (*session.Response, error)
	Classify(resp *session.Response) session.State
}

var _ ProbeSession = (*session.Manager)(nil)

type ProbeOptions struct {
	RunID  string
	Target string
	Count  int

	// Relogin continues the run with a fresh login after an expiry instead of ending it.
	Relogin      bool
	ReloginDelay time.Duration

	Logger *slog.Logger
}

// Probe logs in once and fetches the target up to Count times, paced like submissions. It
// measures how long a session survives: Lifetime stops at the first expiry.
func Probe(ctx context.Context, sess ProbeSession, pacer Pacer, opts ProbeOptions) *ProbeReport {
	report := &ProbeReport{RunID: opts.RunID, Count: opts.Count}
	logger := opts.Logger

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	level.Info(logger).Log(definitions.LogKeyMsg, "probe run started", definitions.LogKeyTotal, opts.Count)

	if err := sess.Login(ctx); err != nil {
		report.Err = err

		return report
	}

	started := time.Now()

	defer func() {
		report.Elapsed = time.Since(started)

		level.Info(logger).Log(
			definitions.LogKeyMsg, "probe run finished",
			definitions.LogKeyTotal, opts.Count,
			"requests", report.Requests,
			"expired", report.Expired,
			"relogin_success", report.ReloginSuccess,
			"relogin_failed", report.ReloginFailed,
			"network_errors", report.NetworkErrors,
		)
	}()

	for i := range opts.Count {
		if i > 0 {
			if err := pacer.Wait(ctx, pacer.DelayFor(governor.EventSubmitted)); err != nil {
				report.Err = err

				return report
			}

			// Every finished request counts toward the burst.
			if pause := pacer.DelayFor(governor.EventConfirmed); pause > 0 {
				if err := pacer.Wait(ctx, pause); err != nil {
					report.Err = err

					return report
				}
			}
		}

		resp, err := sess.Get(ctx, opts.Target)
		report.Requests++

		if report.ExpiredAt == 0 {
			report.Lifetime = time.Since(started)
		}

		if err != nil {
			report.NetworkErrors++

			level.Warn(logger).Log(
				definitions.LogKeyMsg, "probe request failed",
				definitions.LogKeyAttempt, report.Requests,
				definitions.LogKeyError, err,
			)

			continue
		}

		state := sess.Classify(resp)

		level.Info(logger).Log(
			definitions.LogKeyMsg, "probe",
			definitions.LogKeyAttempt, report.Requests,
			definitions.LogKeyStatus, resp.StatusCode,
			definitions.LogKeyState, state,
			definitions.LogKeyElapsed, time.Since(started),
		)

		if state != session.Expired {
			report.Authenticated++

			continue
		}

		report.Expired++

		if report.ExpiredAt == 0 {
			report.ExpiredAt = report.Requests
		}

		if !opts.Relogin {
			return report
		}

		if err = pacer.Wait(ctx, opts.ReloginDelay); err != nil {
			report.Err = err

			return report
		}

		if err = sess.Login(ctx); err != nil {
			report.ReloginFailed++
			report.Err = err

			level.Error(logger).Log(
				definitions.LogKeyMsg, "probe re-login failed",
				definitions.LogKeyAttempt, report.Requests,
				definitions.LogKeyError, err,
			)

			return report
		}

		report.ReloginSuccess++
	}

	return report
}
