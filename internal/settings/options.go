package settings

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithErrorHandler receives hydration, persistence and listener failures.
// It is called from the store's goroutines and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Store) { s.onError = fn }
}

// WithWriteLimit paces adapter writes. Writes are delayed, never dropped.
func WithWriteLimit(limit rate.Limit, burst int) Option {
	return func(s *Store) { s.limiter = rate.NewLimiter(limit, burst) }
}
