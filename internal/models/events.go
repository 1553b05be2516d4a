package models

import "time"

// ChangeEvent is one applied change, as streamed to SSE subscribers.
type ChangeEvent struct {
	Key      string    `json:"key"`
	OldValue any       `json:"oldValue,omitempty"`
	NewValue any       `json:"newValue,omitempty"`
	Removed  bool      `json:"removed,omitempty"`
	At       time.Time `json:"at"`
}

// Snapshot is the first SSE message: the whole namespace at subscribe time.
type Snapshot struct {
	State    string    `json:"state"`
	Settings Namespace `json:"settings"`
}
