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

// Package level provides the keyvals logging idiom used throughout batchpost:
//
//	level.Info(logger).Log(definitions.LogKeyMsg, "record confirmed", definitions.LogKeyIndex, 4)
//
// Records are emitted through log/slog. The "msg" pair becomes the record message, all other
// pairs become attributes. Non-string keys and a dangling trailing key are dropped.
package level

import (
	"context"
	"log/slog"
	"reflect"
)

// Logger accepts alternating key/value pairs.
type Logger interface {
	Log(keyvals ...any) error
}

type leveled struct {
	l   *slog.Logger
	lvl slog.Level
}

// Debug returns a Logger emitting at slog.LevelDebug.
func Debug(l *slog.Logger) Logger {
	return leveled{l: l, lvl: slog.LevelDebug}
}

// Info returns a Logger emitting at slog.LevelInfo.
func Info(l *slog.Logger) Logger {
	return leveled{l: l, lvl: slog.LevelInfo}
}

// Warn returns a Logger emitting at slog.LevelWarn.
func Warn(l *slog.Logger) Logger {
	return leveled{l: l, lvl: slog.LevelWarn}
}

// Error returns a Logger emitting at slog.LevelError.
func Error(l *slog.Logger) Logger {
	return leveled{l: l, lvl: slog.LevelError}
}

func (s leveled) Log(keyvals ...any) error {
	if s.l == nil {
		return nil
	}

	ctx := context.Background()
	if !s.l.Enabled(ctx, s.lvl) {
		return nil
	}

	msg := ""
	attrs := make([]slog.Attr, 0, len(keyvals)/2)

	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}

		value := keyvals[i+1]

		if key == "msg" {
			if text, isString := value.(string); isString {
				msg = text

				continue
			}
		}

		// slog.Any panics on some typed nils while formatting.
		if isTypedNil(value) {
			attrs = append(attrs, slog.String(key, "<nil>"))

			continue
		}

		switch v := value.(type) {
		case string:
			attrs = append(attrs, slog.String(key, v))
		case error:
			attrs = append(attrs, slog.String(key, v.Error()))
		default:
			attrs = append(attrs, slog.Any(key, v))
		}
	}

	if msg == "" {
		msg = defaultMessage(s.lvl)
	}

	s.l.LogAttrs(ctx, s.lvl, msg, attrs...)

	return nil
}

func isTypedNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func defaultMessage(lvl slog.Level) string {
	switch lvl {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "log"
	}
}
