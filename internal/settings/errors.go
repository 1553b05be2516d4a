package settings

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned for programmer errors such as a nil
	// listener or a value that cannot be encoded as JSON.
	ErrInvalidArgument = errors.New("settings: invalid argument")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("settings: store closed")
)

// HydrationError reports a failed initial load. The store stays in the
// Hydrating state until Rehydrate succeeds.
type HydrationError struct {
	Err error
}

func (e *HydrationError) Error() string { return "settings: hydration failed: " + e.Err.Error() }
func (e *HydrationError) Unwrap() error { return e.Err }

// PersistError reports a write or removal the adapter rejected. The mirror
// keeps the new value; durability is lost.
type PersistError struct {
	Op   string // "write", "remove" or "flush"
	Keys []string
	Err  error
}

func (e *PersistError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("settings: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("settings: %s %s failed: %v", e.Op, strings.Join(e.Keys, ","), e.Err)
}
func (e *PersistError) Unwrap() error { return e.Err }

// ListenerError reports a listener that panicked. Other listeners still run.
type ListenerError struct {
	Key   string
	Panic any
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("settings: listener for %q panicked: %v", e.Key, e.Panic)
}
