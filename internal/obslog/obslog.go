// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package obslog provides the translator's structured logging sink: a
// slog.Handler that mirrors every record to a caller-supplied writer and
// additionally echoes to stderr when tracing is enabled or the record
// is above debug level.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler wraps a slog.Handler, duplicating output to stderr on demand.
type Handler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	trace bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.trace || h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, trace: h.trace}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, trace: h.trace}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	ts := r.Time.Format("2006/01/02 15:04:05")

	parts := []string{ts, level, r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	line := []byte(strings.Join(parts, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(line)
	}
	if h.trace || r.Level > slog.LevelDebug {
		_, err = os.Stderr.Write(line)
	}
	return err
}

// SetTrace toggles unconditional stderr echo, driven by
// CodeGenOptions.TraceLogging.
func (h *Handler) SetTrace(trace bool) {
	h.trace = trace
}

// New builds a slog.Logger writing to w, optionally tracing every
// record to stderr regardless of level.
func New(w io.Writer, trace bool) *slog.Logger {
	h := &Handler{
		out:   w,
		h:     slog.NewTextHandler(w, &slog.HandlerOptions{}),
		mu:    &sync.Mutex{},
		trace: trace,
	}
	return slog.New(h)
}

// Discard is a logger that drops everything; used where a caller does
// not supply one.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))
