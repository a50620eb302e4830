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

package errors

import (
	"errors"
)

// DetailedError carries context for an error that halted a batch: the run GUID, the batch
// instance it belongs to and a free text detail (usually a snippet of the remote response).
type DetailedError struct {
	err      error
	guid     string
	details  string
	instance string
}

func (d *DetailedError) Error() string {
	return d.err.Error()
}

// Unwrap exposes the underlying sentinel so errors.Is keeps working.
func (d *DetailedError) Unwrap() error {
	if d == nil {
		return nil
	}

	return d.err
}

func (d *DetailedError) WithGUID(guid string) *DetailedError {
	if d == nil {
		return nil
	}

	d.guid = guid

	return d
}

func (d *DetailedError) WithDetail(detail string) *DetailedError {
	if d == nil {
		return nil
	}

	d.details = detail

	return d
}

func (d *DetailedError) WithInstance(instance string) *DetailedError {
	if d == nil {
		return nil
	}

	d.instance = instance

	return d
}

func (d *DetailedError) GetGUID() string {
	return d.guid
}

func (d *DetailedError) GetDetails() string {
	return d.details
}

func (d *DetailedError) GetInstance() string {
	return d.instance
}

// NewDetailedError wraps err. A nil err yields a nil *DetailedError.
func NewDetailedError(err error) *DetailedError {
	if err == nil {
		return nil
	}

	return &DetailedError{err: err}
}

// submission.

var (
	ErrAuth           = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session expired")
	ErrRejected       = errors.New("record rejected by remote service")
	ErrTransport      = errors.New("transport error")
	ErrFatal          = errors.New("fatal submission error")
	ErrNoSession      = errors.New("no authenticated session")
)

// checkpoint.

var (
	ErrCheckpointRegress = errors.New("checkpoint index must not decrease")
	ErrUnknownBackend    = errors.New("unknown checkpoint backend")
	ErrCorruptCheckpoint = errors.New("checkpoint state is not readable")
)

// source.

var (
	ErrNoRecords         = errors.New("source has no header row")
	ErrIndexOutOfRange   = errors.New("record index out of range")
	ErrUnsupportedSource = errors.New("unsupported source file type")
)

// mapper.

var (
	ErrMissingField  = errors.New("required field has no value")
	ErrUnknownColumn = errors.New("column not present in source header")
	ErrUnknownLookup = errors.New("unknown lookup table")
	ErrLookupMiss    = errors.New("no reference entry for value")
	ErrBadNumber     = errors.New("value is not a number")
	ErrBadDate       = errors.New("value is not a date")
)

// config.

var (
	ErrWrongVerboseLevel = errors.New("wrong verbose level")
	ErrNoBatches         = errors.New("no batches configured")
	ErrNoTargetURL       = errors.New("no target_url configured for batch")
)
