package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// ANSI escapes for terminal output.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// ColorTextHandler is a slog.Handler that writes lines of the form
// "[2006-01-02 15:04:05] [LEVEL] message key=value", with optional ANSI
// coloring for the level and attribute keys.
type ColorTextHandler struct {
	opts   *slog.HandlerOptions
	w      io.Writer
	mu     *sync.Mutex
	prefix string // dotted group path applied to attribute keys
	attrs  []byte // attrs bound via WithAttrs, already rendered
	color  bool
}

// NewColorTextHandler returns a handler writing text output to w. A nil opts
// defaults the minimum level to INFO.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorTextHandler{
		opts:  opts,
		w:     w,
		mu:    &sync.Mutex{},
		color: useColor,
	}
}

// Enabled implements slog.Handler.
func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

// Handle renders the record into a local buffer and writes it in one call,
// holding the mutex only for the write itself.
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	label, color := levelLabel(r.Level)

	buf := make([]byte, 0, 128)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "2006-01-02 15:04:05")
	buf = append(buf, "] ["...)
	if h.color {
		buf = append(buf, color...)
		buf = append(buf, label...)
		buf = append(buf, ansiReset...)
	} else {
		buf = append(buf, label...)
	}
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	buf = append(buf, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.w.Write(buf)
	h.mu.Unlock()
	return err
}

// levelLabel maps a slog level to its display name and ANSI color.
func levelLabel(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG", ansiGray
	case level < slog.LevelWarn:
		return "INFO", ansiGreen
	case level < slog.LevelError:
		return "WARN", ansiYellow
	default:
		return "ERROR", ansiRed
	}
}

// appendAttr renders one attribute as " key=value", qualifying the key with
// the handler's group path ("group.key").
func (h *ColorTextHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, ansiCyan...)
		buf = append(buf, h.prefix...)
		buf = append(buf, a.Key...)
		buf = append(buf, ansiReset...)
	} else {
		buf = append(buf, h.prefix...)
		buf = append(buf, a.Key...)
	}
	buf = append(buf, '=')
	return append(buf, renderValue(a.Value)...)
}

// renderValue formats a slog.Value for text output.
func renderValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}

// WithAttrs implements slog.Handler. Bound attributes are rendered once here
// so Handle only copies bytes.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		h2.attrs = h2.appendAttr(h2.attrs, a)
	}
	return h2
}

// WithGroup implements slog.Handler. Group names become dotted key prefixes.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix += name + "."
	return h2
}

// clone copies the handler, sharing the mutex so writes stay serialized.
func (h *ColorTextHandler) clone() *ColorTextHandler {
	return &ColorTextHandler{
		opts:   h.opts,
		w:      h.w,
		mu:     h.mu,
		prefix: h.prefix,
		attrs:  append([]byte(nil), h.attrs...),
		color:  h.color,
	}
}
