// Package logging provides a colorized, human-readable slog.Handler for
// terminal output.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Options configures a Handler.
type Options struct {
	Level      slog.Level
	UseColor   bool
	TimeFormat string
}

// DefaultOptions returns Info-level, colorized, RFC3339-timestamped output.
func DefaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		UseColor:   true,
		TimeFormat: time.RFC3339,
	}
}

// Handler is a slog.Handler rendering one line per record:
// "<time> | <level> | <message> | <json attrs>".
type Handler struct {
	opts   Options
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr

	colorTime    func(...any) string
	colorLevel   map[slog.Level]func(...any) string
	colorMessage func(...any) string
	colorFields  func(...any) string
}

// New builds a Handler writing to w.
func New(w io.Writer, opts Options) *Handler {
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	h := &Handler{opts: opts, writer: w, mu: &sync.Mutex{}}
	h.initColors()
	return h
}

func (h *Handler) initColors() {
	if !h.opts.UseColor {
		plain := func(a ...any) string { return fmt.Sprint(a...) }
		h.colorTime, h.colorMessage, h.colorFields = plain, plain, plain
		h.colorLevel = map[slog.Level]func(...any) string{
			slog.LevelDebug: plain, slog.LevelInfo: plain, slog.LevelWarn: plain, slog.LevelError: plain,
		}
		return
	}

	h.colorTime = color.New(color.FgHiBlack).SprintFunc()
	h.colorMessage = color.New(color.FgCyan).SprintFunc()
	h.colorFields = color.New(color.FgWhite).SprintFunc()
	h.colorLevel = map[slog.Level]func(...any) string{
		slog.LevelDebug: color.New(color.FgMagenta).SprintFunc(),
		slog.LevelInfo:  color.New(color.FgBlue).SprintFunc(),
		slog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		slog.LevelError: color.New(color.FgRed).SprintFunc(),
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	buf.WriteString(h.colorTime(r.Time.Format(h.opts.TimeFormat)))
	buf.WriteString(" | ")

	levelStr := strings.ToUpper(r.Level.String())
	levelStr = fmt.Sprintf("%-5s", levelStr)
	if colorFn, ok := h.colorLevel[r.Level]; ok {
		buf.WriteString(colorFn(levelStr))
	} else {
		buf.WriteString(levelStr)
	}
	buf.WriteString(" | ")

	buf.WriteString(h.colorMessage(r.Message))

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	if len(attrs) > 0 {
		b, err := json.Marshal(attrs)
		if err == nil {
			buf.WriteString(" | ")
			buf.WriteString(h.colorFields(string(b)))
		}
	}

	buf.WriteByte('\n')
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := &Handler{opts: h.opts, writer: h.writer, mu: h.mu, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
	nh.initColors()
	return nh
}

func (h *Handler) WithGroup(_ string) slog.Handler {
	// Groups are not rendered distinctly in this compact line format; the
	// attributes still appear, flattened.
	return h
}
