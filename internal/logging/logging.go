// Package logging builds the process logger: a console handler plus an
// optional rotating file that collects only errors and records tagged with
// ErrLogKey.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrLogKey marks a non-error record for the error log as well, e.g.
// logger.Info("starting", logging.ErrLogKey, true).
const ErrLogKey = "errlog"

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json

	ErrorLog   string // path; empty disables the error log
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns the logger and a closer for the error log file.
func New(opts Options, out io.Writer) (*slog.Logger, io.Closer) {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var main slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		main = slog.NewJSONHandler(out, hopts)
	default:
		main = slog.NewTextHandler(out, hopts)
	}
	if opts.ErrorLog == "" {
		return slog.New(main), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   opts.ErrorLog,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 30),
		LocalTime:  true,
	}
	errs := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewTee(main, errs)), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Tee writes every record to main and the error-worthy ones to errs.
type Tee struct {
	main   slog.Handler
	errs   slog.Handler
	tagged bool
}

func NewTee(main, errs slog.Handler) *Tee {
	return &Tee{main: main, errs: errs}
}

func (h *Tee) Enabled(ctx context.Context, l slog.Level) bool {
	return h.main.Enabled(ctx, l) || h.errs.Enabled(ctx, l)
}

func (h *Tee) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.main.Enabled(ctx, r.Level) {
		err = h.main.Handle(ctx, r.Clone())
	}
	if r.Level >= slog.LevelError || h.tagged || tagged(r) {
		if e := h.errs.Handle(ctx, r); err == nil {
			err = e
		}
	}
	return err
}

func (h *Tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	t := h.tagged
	for _, a := range attrs {
		t = t || isTag(a)
	}
	return &Tee{main: h.main.WithAttrs(attrs), errs: h.errs.WithAttrs(attrs), tagged: t}
}

func (h *Tee) WithGroup(name string) slog.Handler {
	return &Tee{main: h.main.WithGroup(name), errs: h.errs.WithGroup(name), tagged: h.tagged}
}

func tagged(r slog.Record) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if isTag(a) {
			found = true
			return false
		}
		return true
	})
	return found
}

func isTag(a slog.Attr) bool {
	return a.Key == ErrLogKey && a.Value.Kind() == slog.KindBool && a.Value.Bool()
}
