package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Dir          string
	Debounce     time.Duration // json only
	PollInterval time.Duration // sqlite only
}

// Open returns the adapter named by opts.Backend.
func Open(ctx context.Context, opts Options) (Adapter, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemAdapter(), nil
	case BackendJSON, "":
		return NewJSONAdapter(opts.Dir, WithDebounce(opts.Debounce))
	case BackendSQLite:
		return NewSQLiteAdapter(ctx, opts.Dir, opts.PollInterval)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}
