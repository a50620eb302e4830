package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/croessner/batchpost/client/checkpoint"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/governor"
	"github.com/croessner/batchpost/client/log/level"
	"github.com/croessner/batchpost/client/mapper"
	"github.com/croessner/batchpost/client/session"
	"github.com/croessner/batchpost/client/source"
	"github.com/croessner/batchpost/client/stats"
)

const snippetLength = 300

// retryStatus are gateway and throttling answers that say nothing about the record.
var retryStatus = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Sessioner is the part of session.Manager the driver needs.
type Sessioner interface {
	Login(ctx context.Context) error
	Submit(ctx context.Context, endpoint string, payload url.Values) (*session.Response, error)
	Classify(resp *session.Response) session.State
}

// Pacer is the part of governor.Governor the driver needs.
type Pacer interface {
	DelayFor(event governor.Event) time.Duration
	Wait(ctx context.Context, d time.Duration) error
}

var (
	_ Sessioner = (*session.Manager)(nil)
	_ Pacer     = (*governor.Governor)(nil)
)

// Batch is one named record source with its endpoint and mapper.
type Batch struct {
	Name   string
	Target string
	Source source.RecordSource
	Mapper mapper.FieldMapper
}

type DriverOptions struct {
	RunID    string
	Instance string

	// AcceptStatus are the status codes of a confirmed submission.
	AcceptStatus []int

	// RejectMarkers are lower-case body fragments of a declined record.
	RejectMarkers [][]byte

	NetworkRetries int
	ReloginDelay   time.Duration

	Logger   *slog.Logger
	Recorder stats.Recorder
}

// Driver submits the records of one batch strictly in order. It owns its session, checkpoint
// handle and pacer for the duration of the batch.
type Driver struct {
	session Sessioner
	store   checkpoint.Store
	pacer   Pacer
	opts    DriverOptions
}

// NewDriver returns a Driver. RejectMarkers are matched case-insensitively.
func NewDriver(sess Sessioner, store checkpoint.Store, pacer Pacer, opts DriverOptions) *Driver {
	if len(opts.AcceptStatus) == 0 {
		opts.AcceptStatus = []int{http.StatusOK, http.StatusCreated}
	}

	lowered := make([][]byte, len(opts.RejectMarkers))
	for i, marker := range opts.RejectMarkers {
		lowered[i] = bytes.ToLower(marker)
	}

	opts.RejectMarkers = lowered

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	return &Driver{session: sess, store: store, pacer: pacer, opts: opts}
}

// outcome is what happened to one record after all retries.
type outcome struct {
	result Result
	reason Reason
	err    error
	detail string
}

// Run processes batch from its checkpoint to the end or to the first halt. Cancelling ctx stops
// the run between records; a request already sent is never abandoned.
func (d *Driver) Run(ctx context.Context, batch Batch) *Report {
	started := time.Now()
	report := &Report{Batch: batch.Name, RunID: d.opts.RunID, Total: batch.Source.Len()}

	defer func() {
		report.Elapsed = time.Since(started)
	}()

	d.state(batch.Name, stateIdle)

	cp, err := d.store.Load(ctx, batch.Name)
	if err != nil {
		return d.halt(report, ReasonFatal, fmt.Errorf("load checkpoint: %w", err), "")
	}

	report.StartIndex, report.FinalIndex = cp.Index, cp.Index

	if cp.Index >= report.Total {
		report.Reason = ReasonCompleted

		level.Info(d.opts.Logger).Log(
			definitions.LogKeyMsg, "batch already complete",
			definitions.LogKeyBatch, batch.Name,
			definitions.LogKeyCheckpoint, cp.Index,
			definitions.LogKeyTotal, report.Total,
		)

		return report
	}

	if ctx.Err() != nil {
		return d.halt(report, ReasonStopped, ctx.Err(), "")
	}

	d.state(batch.Name, stateAuthenticating)

	if err = d.session.Login(ctx); err != nil {
		return d.halt(report, ReasonAuthFailed, d.detailed(err), detailOf(err))
	}

	d.state(batch.Name, stateSubmitting)

	level.Info(d.opts.Logger).Log(
		definitions.LogKeyMsg, "resuming batch",
		definitions.LogKeyBatch, batch.Name,
		definitions.LogKeyIndex, cp.Index,
		definitions.LogKeyTotal, report.Total,
	)

	for index := cp.Index; index < report.Total; index++ {
		if ctx.Err() != nil {
			return d.halt(report, ReasonStopped, ctx.Err(), "")
		}

		payload, reason, err := d.payload(ctx, batch, index, report)
		if err != nil {
			if reason == ReasonStopped {
				return d.halt(report, reason, err, "")
			}

			return d.halt(report, reason, d.detailed(err), err.Error())
		}

		out := d.submitRecord(ctx, batch, index, payload, report)
		if out.result != Confirmed {
			return d.halt(report, out.reason, out.err, out.detail)
		}

		next := checkpoint.Checkpoint{Batch: batch.Name, Index: index + 1, UpdatedAt: time.Now()}

		if err = d.store.Save(context.WithoutCancel(ctx), next); err != nil {
			return d.halt(report, ReasonFatal, fmt.Errorf("save checkpoint: %w", err), "")
		}

		report.FinalIndex = next.Index
		d.opts.Recorder.Checkpoint(batch.Name, next.Index)

		level.Info(d.opts.Logger).Log(
			definitions.LogKeyMsg, "record confirmed",
			definitions.LogKeyBatch, batch.Name,
			definitions.LogKeyIndex, index,
			definitions.LogKeyCheckpoint, next.Index,
			definitions.LogKeyTotal, report.Total,
		)

		pause := d.pacer.DelayFor(governor.EventConfirmed)

		if next.Index < report.Total && pause > 0 {
			level.Info(d.opts.Logger).Log(
				definitions.LogKeyMsg, "burst pause",
				definitions.LogKeyBatch, batch.Name,
				definitions.LogKeyDelay, pause,
			)

			if err = d.pacer.Wait(ctx, pause); err != nil {
				return d.halt(report, ReasonStopped, err, "")
			}
		}
	}

	report.Reason = ReasonCompleted

	level.Info(d.opts.Logger).Log(
		definitions.LogKeyMsg, "batch completed",
		definitions.LogKeyBatch, batch.Name,
		definitions.LogKeyCheckpoint, report.FinalIndex,
		definitions.LogKeyTotal, report.Total,
	)

	return report
}

// payload maps the record at index. Lookups that fail in transport are retried with backoff
// within the network budget of the record.
func (d *Driver) payload(ctx context.Context, batch Batch, index int, report *Report) (url.Values, Reason, error) {
	rec, err := batch.Source.Record(index)
	if err != nil {
		return nil, ReasonFatal, fmt.Errorf("%w: record %d: %w", errors.ErrFatal, index, err)
	}

	failures := 0

	for {
		payload, err := batch.Mapper.Map(ctx, index, rec)
		if err == nil {
			return payload, "", nil
		}

		if !stderrors.Is(err, errors.ErrTransport) {
			return nil, ReasonFatal, fmt.Errorf("%w: record %d: %w", errors.ErrFatal, index, err)
		}

		report.NetworkErrors++
		failures++

		if failures > d.opts.NetworkRetries {
			return nil, ReasonNetworkExhausted, fmt.Errorf("record %d: %w", index, err)
		}

		delay := d.pacer.DelayFor(governor.EventNetworkError)

		level.Warn(d.opts.Logger).Log(
			definitions.LogKeyMsg, "lookup failed, retrying record",
			definitions.LogKeyBatch, batch.Name,
			definitions.LogKeyIndex, index,
			definitions.LogKeyAttempt, failures,
			definitions.LogKeyDelay, delay,
			definitions.LogKeyError, err,
		)

		if err = d.pacer.Wait(ctx, delay); err != nil {
			return nil, ReasonStopped, err
		}
	}
}

// submitRecord sends one record until it is confirmed or a halt condition is reached. An expired
// session allows a single re-login and a single retry; transport failures are retried with
// backoff up to the network budget.
func (d *Driver) submitRecord(ctx context.Context, batch Batch, index int, payload url.Values, report *Report) outcome {
	relogged := false
	networkErrors := 0

	for {
		if report.Attempts > 0 {
			if err := d.pacer.Wait(ctx, d.pacer.DelayFor(governor.EventSubmitted)); err != nil {
				return outcome{result: Fatal, reason: ReasonStopped, err: err}
			}
		}

		sent := time.Now()
		resp, err := d.session.Submit(ctx, batch.Target, payload)
		report.Attempts++

		result, err := d.judge(resp, err)
		d.opts.Recorder.Submission(batch.Name, result.String(), time.Since(sent))

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		level.Debug(d.opts.Logger).Log(
			definitions.LogKeyMsg, "submission judged",
			definitions.LogKeyBatch, batch.Name,
			definitions.LogKeyIndex, index,
			definitions.LogKeyResult, result,
			definitions.LogKeyStatus, status,
			definitions.LogKeyAttempt, report.Attempts,
		)

		switch result {
		case Confirmed:
			report.Confirmed++

			return outcome{result: Confirmed}
		case Expired:
			report.Expired++

			if relogged {
				return d.failed(result, err, resp)
			}

			relogged = true

			if out, ok := d.relogin(ctx, batch, index, report); !ok {
				return out
			}
		case NetworkError:
			report.NetworkErrors++
			networkErrors++

			if networkErrors > d.opts.NetworkRetries {
				return d.failed(result, err, resp)
			}

			delay := d.pacer.DelayFor(governor.EventNetworkError)
			d.state(batch.Name, stateRetrying)

			level.Warn(d.opts.Logger).Log(
				definitions.LogKeyMsg, "transient failure, retrying record",
				definitions.LogKeyBatch, batch.Name,
				definitions.LogKeyIndex, index,
				definitions.LogKeyAttempt, networkErrors,
				definitions.LogKeyDelay, delay,
				definitions.LogKeyError, err,
			)

			if err = d.pacer.Wait(ctx, delay); err != nil {
				return outcome{result: Fatal, reason: ReasonStopped, err: err}
			}
		default:
			return d.failed(result, err, resp)
		}
	}
}

// relogin replaces an expired session. ok is false when the batch must halt.
func (d *Driver) relogin(ctx context.Context, batch Batch, index int, report *Report) (outcome, bool) {
	d.state(batch.Name, stateAuthenticating)

	level.Warn(d.opts.Logger).Log(
		definitions.LogKeyMsg, "session expired, logging in again",
		definitions.LogKeyBatch, batch.Name,
		definitions.LogKeyIndex, index,
	)

	if err := d.pacer.Wait(ctx, d.opts.ReloginDelay); err != nil {
		return outcome{result: Fatal, reason: ReasonStopped, err: err}, false
	}

	report.Relogins++
	d.opts.Recorder.Relogin(batch.Name)

	if err := d.session.Login(ctx); err != nil {
		return outcome{
			result: Expired,
			reason: ReasonExpired,
			err:    d.detailed(fmt.Errorf("%w: re-login failed: %w", errors.ErrSessionExpired, err)),
			detail: detailOf(err),
		}, false
	}

	d.state(batch.Name, stateRetrying)

	return outcome{}, true
}

// judge classifies every response exactly once and maps it to a Result.
func (d *Driver) judge(resp *session.Response, err error) (Result, error) {
	if err != nil {
		if stderrors.Is(err, errors.ErrTransport) {
			return NetworkError, err
		}

		return Fatal, err
	}

	state := d.session.Classify(resp)

	if slices.Contains(retryStatus, resp.StatusCode) {
		return NetworkError, fmt.Errorf("%w: status %d", errors.ErrTransport, resp.StatusCode)
	}

	switch state {
	case session.Expired:
		return Expired, errors.ErrSessionExpired
	case session.Fatal:
		return Fatal, errors.ErrFatal
	}

	if !slices.Contains(d.opts.AcceptStatus, resp.StatusCode) {
		return Rejected, fmt.Errorf("%w: status %d", errors.ErrRejected, resp.StatusCode)
	}

	body := bytes.ToLower(resp.Body)

	for _, marker := range d.opts.RejectMarkers {
		if len(marker) > 0 && bytes.Contains(body, marker) {
			return Rejected, fmt.Errorf("%w: response contains %q", errors.ErrRejected, marker)
		}
	}

	return Confirmed, nil
}

func (d *Driver) failed(result Result, err error, resp *session.Response) outcome {
	detail := ""
	if resp != nil {
		detail = resp.Snippet(snippetLength)
	}

	return outcome{
		result: result,
		reason: haltFor(result),
		err:    d.detailed(err).WithDetail(detail),
		detail: detail,
	}
}

// detailed tags err with the run id and instance for the report.
func (d *Driver) detailed(err error) *errors.DetailedError {
	var detailed *errors.DetailedError
	if !stderrors.As(err, &detailed) {
		detailed = errors.NewDetailedError(err)
	}

	return detailed.WithGUID(d.opts.RunID).WithInstance(d.opts.Instance)
}

func (d *Driver) halt(report *Report, reason Reason, err error, detail string) *Report {
	report.Reason = reason
	report.Err = err
	report.Detail = detail

	logger := level.Error(d.opts.Logger)
	if reason == ReasonStopped {
		logger = level.Warn(d.opts.Logger)
	}

	logger.Log(
		definitions.LogKeyMsg, "batch halted",
		definitions.LogKeyBatch, report.Batch,
		definitions.LogKeyState, stateHalted,
		definitions.LogKeyReason, reason,
		definitions.LogKeyCheckpoint, report.FinalIndex,
		definitions.LogKeyTotal, report.Total,
		definitions.LogKeyError, err,
		definitions.LogKeyDetail, detail,
	)

	return report
}

func (d *Driver) state(batch, state string) {
	level.Debug(d.opts.Logger).Log(
		definitions.LogKeyMsg, "state change",
		definitions.LogKeyBatch, batch,
		definitions.LogKeyState, state,
	)
}

type nopRecorder struct{}

func (nopRecorder) Submission(string, string, time.Duration) {}
func (nopRecorder) Relogin(string)                           {}
func (nopRecorder) Checkpoint(string, int)                   {}
