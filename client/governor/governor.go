// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package governor paces submissions: a random gap after every request, a long pause after
// every burst of confirmations and exponential backoff after network errors.
package governor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Event is something the driver reports to the governor.
type Event int

const (
	// EventSubmitted follows every completed request.
	EventSubmitted Event = iota

	// EventConfirmed follows a submission the remote service accepted.
	EventConfirmed

	// EventNetworkError follows a transport failure or a retryable status.
	EventNetworkError
)

func (e Event) String() string {
	switch e {
	case EventSubmitted:
		return "submitted"
	case EventConfirmed:
		return "confirmed"
	case EventNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	InterDelayMin  time.Duration
	InterDelayMax  time.Duration
	BurstSize      int
	BurstPause     time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Rand and Sleep are replaced in tests.
	Rand  *rand.Rand
	Sleep SleepFunc
}

// Governor is owned by one driver for the duration of one batch.
type Governor struct {
	opts Options

	mu        sync.Mutex
	rng       *rand.Rand
	confirmed int
	backoff   *backoff.ExponentialBackOff
}

func New(opts Options) *Governor {
	if opts.InterDelayMax < opts.InterDelayMin {
		opts.InterDelayMax = opts.InterDelayMin
	}

	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}

	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}

	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BackoffInitial
	bo.MaxInterval = opts.BackoffMax
	bo.Reset()

	return &Governor{opts: opts, rng: rng, backoff: bo}
}

// DelayFor returns how long to wait after event. It also advances the burst counter and the
// backoff state, so each event must be reported exactly once.
func (g *Governor) DelayFor(event Event) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch event {
	case EventSubmitted:
		span := g.opts.InterDelayMax - g.opts.InterDelayMin
		if span <= 0 {
			return g.opts.InterDelayMin
		}

		return g.opts.InterDelayMin + time.Duration(g.rng.Int64N(int64(span)+1))
	case EventConfirmed:
		g.confirmed++
		g.backoff.Reset()

		if g.opts.BurstSize > 0 && g.confirmed%g.opts.BurstSize == 0 {
			return g.opts.BurstPause
		}

		return 0
	case EventNetworkError:
		return g.backoff.NextBackOff()
	default:
		return 0
	}
}

// Wait sleeps d through the configured SleepFunc. It returns ctx.Err() when the operator
// stopped the run during the pause.
func (g *Governor) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	return g.opts.Sleep(ctx, d)
}

// Confirmed returns the number of confirmations reported so far.
func (g *Governor) Confirmed() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.confirmed
}

// Sleep is the wall clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
