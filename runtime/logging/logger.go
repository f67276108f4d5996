package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type Options struct {
	App       string // application name
	Role      string // "client" or "server"
	Component string // subsystem emitting the record, e.g. "registry"

	Attrs []slog.Attr
}

// LogHandler writes JSON records with a compact time format, a file:line
// source and the attributes configured in Options.
type LogHandler struct {
	attrs []slog.Attr
	*slog.JSONHandler
}

var _ slog.Handler = (*LogHandler)(nil)

// NewLogHandler
// w after w.Write(b), b will be put back to a sync.Pool, so do not continue hold a reference to b.
func NewLogHandler(w io.Writer, opts Options, level slog.Leveler) *LogHandler {
	h := &LogHandler{
		JSONHandler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					a.Value = slog.StringValue(a.Value.Time().Format(time.DateTime))
				}
				return a
			},
		}),
	}

	h.attrs = append(h.attrs, opts.Attrs...)
	if opts.App != "" {
		h.attrs = append(h.attrs, slog.String("app", opts.App))
	}
	if opts.Role != "" {
		h.attrs = append(h.attrs, slog.String("role", opts.Role))
	}
	if opts.Component != "" {
		h.attrs = append(h.attrs, slog.String("component", opts.Component))
	}

	return h
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.JSONHandler.Enabled(ctx, level)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	c.attrs = append(c.attrs, attrs...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		r.AddAttrs(slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f.File, f.Line)))
	}
	if len(h.attrs) > 0 {
		r.AddAttrs(h.attrs...)
	}
	return h.JSONHandler.Handle(ctx, r)
}

// StderrLogger returns an info level logger writing to os.Stderr.
func StderrLogger(opts Options) *slog.Logger {
	return slog.New(NewLogHandler(os.Stderr, opts, slog.LevelInfo))
}

// ParseLevel maps a config level name to a slog level. The empty string is
// info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q", level)
	}
}
