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
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/log/color"

	"github.com/mattn/go-isatty"
)

// ParseLevel maps a textual level to one of the definitions.LogLevel* constants.
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return definitions.LogLevelNone, nil
	case "error":
		return definitions.LogLevelError, nil
	case "warn", "warning":
		return definitions.LogLevelWarn, nil
	case "", "info":
		return definitions.LogLevelInfo, nil
	case "debug":
		return definitions.LogLevelDebug, nil
	default:
		return 0, fmt.Errorf("%w: %q", errors.ErrWrongVerboseLevel, name)
	}
}

// UseColor decides whether output to f gets colored. mode is one of auto, always, never.
// NO_COLOR disables color in auto mode.
func UseColor(mode string, f *os.File) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}

	if os.Getenv("NO_COLOR") != "" || f == nil {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetupLogging builds the process logger writing to out.
func SetupLogging(out io.Writer, logLevel int, formatJSON bool, useColor bool, instance string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(logLevel)}

	var handler slog.Handler

	switch {
	case formatJSON:
		handler = slog.NewJSONHandler(out, opts)
	case useColor:
		handler = color.NewLineWrapper(out, opts, nil)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With(definitions.LogKeyInstance, instance)
}

func slogLevel(logLevel int) slog.Level {
	switch logLevel {
	case definitions.LogLevelNone:
		return slog.Level(math.MaxInt32)
	case definitions.LogLevelError:
		return slog.LevelError
	case definitions.LogLevelWarn:
		return slog.LevelWarn
	case definitions.LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
