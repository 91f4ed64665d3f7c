// Package logging builds the process logger: slog to stderr, optionally mirrored to an OpenTelemetry
// LoggerProvider through the otelslog bridge.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"golang.org/x/term"
)

// Options for New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is json or text. Empty picks text on a terminal and json otherwise.
	Format string
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Provider, when set, also receives every record via otelslog.
	Provider otellog.LoggerProvider
	// Name is the instrumentation scope for the OTel bridge.
	Name string
}

// New returns the logger and the LevelVar controlling it, so the level can be changed at runtime.
func New(opts Options) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, hopts)
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	case "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			handler = slog.NewTextHandler(w, hopts)
		} else {
			handler = slog.NewJSONHandler(w, hopts)
		}
	default:
		return nil, nil, errors.New("logging: unknown format " + opts.Format)
	}
	if opts.Provider != nil {
		name := opts.Name
		if name == "" {
			name = "retail-telemetry"
		}
		bridge := otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.Provider))
		handler = tee{handlers: []slog.Handler{handler, leveled{Handler: bridge, level: level}}}
	}
	return slog.New(handler), level, nil
}

// SetLevel parses s (debug, info, warn, error; empty is info) into lv.
func SetLevel(lv *slog.LevelVar, s string) error {
	if strings.TrimSpace(s) == "" {
		lv.Set(slog.LevelInfo)
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return errors.New("logging: invalid level " + s)
	}
	lv.Set(l)
	return nil
}

// tee sends each record to every handler that is enabled for it.
type tee struct {
	handlers []slog.Handler
}

func (t tee) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return tee{handlers: out}
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithGroup(name)
	}
	return tee{handlers: out}
}

// leveled applies the shared LevelVar to a handler that has no level option of its own.
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (l leveled) Enabled(ctx context.Context, lvl slog.Level) bool {
	return lvl >= l.level.Level() && l.Handler.Enabled(ctx, lvl)
}

func (l leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: l.Handler.WithAttrs(attrs), level: l.level}
}

func (l leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: l.Handler.WithGroup(name), level: l.level}
}
