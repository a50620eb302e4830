package engine

import (
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/croessner/batchpost/client/errors"

	"github.com/fatih/color"
)

// Report is the outcome of one batch run. FinalIndex is the checkpoint an operator resumes from.
type Report struct {
	Batch      string
	RunID      string
	StartIndex int
	FinalIndex int
	Total      int
	Reason     Reason
	Err        error

	// Detail is the response snippet or record error that caused the halt.
	Detail string

	Attempts      int
	Confirmed     int
	Expired       int
	Relogins      int
	NetworkErrors int
	Elapsed       time.Duration
}

// Halted reports whether the batch stopped before its last record.
func (r *Report) Halted() bool {
	return r.Reason != ReasonCompleted
}

// ProbeReport is the outcome of one session lifetime probe run.
type ProbeReport struct {
	RunID         string
	Count         int
	Requests      int
	Authenticated int

	// ExpiredAt is the 1-based request that first saw an expired session, 0 if none did.
	ExpiredAt int

	// Lifetime is the time from login to the first expiry, or to the last request.
	Lifetime time.Duration
	Elapsed  time.Duration

	Expired        int
	ReloginSuccess int
	ReloginFailed  int
	NetworkErrors  int
	Err            error
}

// Failed reports whether the run could not measure anything.
func (r *ProbeReport) Failed() bool {
	return r.Err != nil && r.ExpiredAt == 0
}

// Printer renders reports for the operator.
type Printer struct {
	out  io.Writer
	ok   func(a ...any) string
	warn func(a ...any) string
	bad  func(a ...any) string
	dim  func(a ...any) string
}

// NewPrinter writes to out, coloring only when useColor is set.
func NewPrinter(out io.Writer, useColor bool) *Printer {
	paint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}

		return c.SprintFunc()
	}

	return &Printer{
		out:  out,
		ok:   paint(color.FgGreen, color.Bold),
		warn: paint(color.FgYellow, color.Bold),
		bad:  paint(color.FgRed, color.Bold),
		dim:  paint(color.Faint),
	}
}

func (p *Printer) Batches(reports []*Report) {
	for _, r := range reports {
		status := p.ok(string(r.Reason))

		switch r.Reason {
		case ReasonCompleted:
		case ReasonStopped:
			status = p.warn(string(r.Reason))
		default:
			status = p.bad(string(r.Reason))
		}

		fmt.Fprintf(p.out, "%s %s checkpoint=%d/%d (started at %d) in %s\n",
			status, r.Batch, r.FinalIndex, r.Total, r.StartIndex, r.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(p.out, "  %s\n", p.dim(fmt.Sprintf(
			"attempts=%d confirmed=%d expired=%d relogins=%d network_errors=%d run_id=%s",
			r.Attempts, r.Confirmed, r.Expired, r.Relogins, r.NetworkErrors, r.RunID)))

		if r.Err != nil {
			fmt.Fprintf(p.out, "  error: %v\n", r.Err)
		}

		if r.Detail != "" {
			fmt.Fprintf(p.out, "  response: %s\n", r.Detail)
		}
	}
}

// Probe prints one summary per probe run.
func (p *Printer) Probe(reports []*ProbeReport) {
	for _, r := range reports {
		switch {
		case r.Failed():
			fmt.Fprintf(p.out, "%s count=%d: %v\n", p.bad("probe failed"), r.Count, r.Err)

			continue
		case r.ExpiredAt > 0:
			fmt.Fprintf(p.out, "%s count=%d after %s (request %d of %d)\n",
				p.warn("session expired"), r.Count, r.Lifetime.Round(time.Millisecond), r.ExpiredAt, r.Requests)
		default:
			fmt.Fprintf(p.out, "%s count=%d for %s (%d requests)\n",
				p.ok("session alive"), r.Count, r.Lifetime.Round(time.Millisecond), r.Requests)
		}

		fmt.Fprintf(p.out, "  %s\n", p.dim(fmt.Sprintf(
			"attempted=%d expired=%d relogin_success=%d relogin_failed=%d network_errors=%d run_id=%s",
			r.Requests, r.Expired, r.ReloginSuccess, r.ReloginFailed, r.NetworkErrors, r.RunID)))

		if r.Err != nil {
			fmt.Fprintf(p.out, "  error: %v\n", r.Err)
		}
	}
}

// detailOf extracts the diagnostic snippet carried by err.
func detailOf(err error) string {
	var detailed *errors.DetailedError
	if stderrors.As(err, &detailed) {
		return detailed.GetDetails()
	}

	return ""
}
