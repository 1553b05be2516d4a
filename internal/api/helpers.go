// Package api implements the HTTP REST API of the settings daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/settings"
)

const maxBodyBytes = 1 << 20

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store   SettingsStore
	events  EventBus
	backups Backups
	info    Info
}

// Info describes the running daemon in /api/status.
type Info struct {
	Version string `json:"version"`
	Backend string `json:"backend"`
}

// SettingsStore is the part of *settings.Store the handlers use.
type SettingsStore interface {
	Get(key string) (any, bool)
	All() models.Namespace
	Len() int
	State() settings.State
	Set(key string, value any) error
	SetMany(values map[string]any) error
	Delete(key string) error
	Flush(ctx context.Context) error
}

// EventBus is the interface for subscribing to applied changes.
type EventBus interface {
	Subscribe(id string) <-chan models.ChangeEvent
	Unsubscribe(id string, ch <-chan models.ChangeEvent)
	SubscriberCount() int
}

// Backups takes on-demand snapshots. It is optional.
type Backups interface {
	RunBackupNow() (string, error)
	Dir() string
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

// storeError maps settings errors onto API errors.
func storeError(key string, err error) error {
	switch {
	case errors.Is(err, settings.ErrInvalidArgument):
		if key != "" {
			return models.ErrInvalidField(key, err.Error())
		}
		return models.ErrBadRequest(err.Error())
	case errors.Is(err, settings.ErrClosed):
		return models.ErrUnavailable("settings store is shutting down")
	default:
		return err
	}
}

// decodeBody decodes a single JSON document from the request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.ErrBadRequest("request body is empty")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return models.ErrBadRequest("request body too large")
		}
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	if dec.More() {
		return models.ErrBadRequest("invalid JSON: trailing data after value")
	}
	return nil
}
