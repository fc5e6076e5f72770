package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// MultiHandler fans records out to every handler enabled for their level. The
// console handler and the Sentry event handler are combined this way.
func MultiHandler(handlers ...slog.Handler) slog.Handler {
	var f fanout
	for _, handler := range handlers {
		if handler != nil {
			f = append(f, handler)
		}
	}
	switch len(f) {
	case 0:
		return slog.NewTextHandler(io.Discard, nil)
	case 1:
		return f[0]
	}
	return f
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives each handler its own copy of the record; the Sentry handler keeps
// records past the call.
func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(derive func(slog.Handler) slog.Handler) fanout {
	next := make(fanout, len(f))
	for i, handler := range f {
		next[i] = derive(handler)
	}
	return next
}
