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

package log

import (
	"fmt"
	"log/slog"

	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/log/level"

	"go.uber.org/fx/fxevent"
)

// FxEventLogger forwards fx lifecycle events to the process logger.
type FxEventLogger struct {
	logger *slog.Logger
}

func NewFxEventLogger(logger *slog.Logger) fxevent.Logger {
	return &FxEventLogger{logger: logger}
}

func (l *FxEventLogger) LogEvent(event fxevent.Event) {
	if l == nil || l.logger == nil {
		return
	}

	switch e := event.(type) {
	case *fxevent.Started:
		if e.Err != nil {
			level.Error(l.logger).Log(definitions.LogKeyMsg, "fx start failed", definitions.LogKeyError, e.Err)

			return
		}

		level.Debug(l.logger).Log(definitions.LogKeyMsg, "fx started")
	case *fxevent.Stopped:
		level.Debug(l.logger).Log(definitions.LogKeyMsg, "fx stopped", definitions.LogKeyError, e.Err)
	case *fxevent.RollingBack:
		level.Warn(l.logger).Log(definitions.LogKeyMsg, "fx rolling back", definitions.LogKeyError, e.StartErr)
	case *fxevent.OnStartExecuted:
		l.hookResult("fx OnStart executed", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		l.hookResult("fx OnStop executed", e.FunctionName, e.Err)
	case *fxevent.Provided:
		if e.Err != nil {
			level.Error(l.logger).Log(definitions.LogKeyMsg, "fx provide failed", "constructor", e.ConstructorName, definitions.LogKeyError, e.Err)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			level.Error(l.logger).Log(definitions.LogKeyMsg, "fx invoke failed", "function", e.FunctionName, definitions.LogKeyError, e.Err)
		}
	default:
		level.Debug(l.logger).Log(definitions.LogKeyMsg, "fx event", "type", fmt.Sprintf("%T", event))
	}
}

func (l *FxEventLogger) hookResult(msg string, callee string, err error) {
	if err != nil {
		level.Error(l.logger).Log(definitions.LogKeyMsg, msg, "callee", callee, definitions.LogKeyError, err)

		return
	}

	level.Debug(l.logger).Log(definitions.LogKeyMsg, msg, "callee", callee)
}
