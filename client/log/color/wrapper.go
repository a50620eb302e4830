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

// Package color wraps slog.TextHandler output in one ANSI color per line, chosen by level.
package color

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

const (
	ansiReset = "\x1b[0m"

	fgRed    = "\x1b[31m"
	fgYellow = "\x1b[33m"
	fgGreen  = "\x1b[32m"
	fgCyan   = "\x1b[36m"
)

// DefaultColors maps the four slog levels to foreground colors.
func DefaultColors() map[slog.Level]string {
	return map[slog.Level]string{
		slog.LevelDebug: fgCyan,
		slog.LevelInfo:  fgGreen,
		slog.LevelWarn:  fgYellow,
		slog.LevelError: fgRed,
	}
}

// LineWrapper renders records with slog.TextHandler and colors the whole line.
type LineWrapper struct {
	mu     *sync.Mutex
	out    io.Writer
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	colors map[slog.Level]string
}

// NewLineWrapper returns a LineWrapper writing to out. A nil colors map selects DefaultColors.
func NewLineWrapper(out io.Writer, opts *slog.HandlerOptions, colors map[slog.Level]string) *LineWrapper {
	if colors == nil {
		colors = DefaultColors()
	}

	return &LineWrapper{mu: &sync.Mutex{}, out: out, opts: opts, colors: colors}
}

func (h *LineWrapper) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.opts == nil || h.opts.Level == nil {
		return lvl >= slog.LevelInfo
	}

	return lvl >= h.opts.Level.Level()
}

func (h *LineWrapper) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer

	var inner slog.Handler = slog.NewTextHandler(&buf, h.opts)

	for _, g := range h.groups {
		inner = inner.WithGroup(g)
	}

	if len(h.attrs) > 0 {
		inner = inner.WithAttrs(h.attrs)
	}

	if err := inner.Handle(ctx, r); err != nil {
		return err
	}

	line := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	out := make([]byte, 0, len(line)+16)
	out = append(out, h.pick(r.Level)...)
	out = append(out, line...)
	out = append(out, ansiReset...)
	out = append(out, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.out.Write(out)

	return err
}

func (h *LineWrapper) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)

	return &cp
}

func (h *LineWrapper) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)

	return &cp
}

func (h *LineWrapper) pick(lvl slog.Level) string {
	if c, ok := h.colors[lvl]; ok {
		return c
	}

	switch {
	case lvl >= slog.LevelError:
		return fgRed
	case lvl >= slog.LevelWarn:
		return fgYellow
	case lvl <= slog.LevelDebug:
		return fgCyan
	default:
		return fgGreen
	}
}

var _ slog.Handler = (*LineWrapper)(nil)
