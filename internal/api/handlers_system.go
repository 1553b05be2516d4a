package api

import (
	"net/http"
	"path/filepath"

	"github.com/betterseqta/settings-go/internal/maintenance"
)

type statusResponse struct {
	Info
	State       string `json:"state"`
	Keys        int    `json:"keys"`
	Subscribers int    `json:"subscribers"`
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Info:        h.info,
		State:       h.store.State().String(),
		Keys:        h.store.Len(),
		Subscribers: h.events.SubscriberCount(),
	})
}

// createBackup flushes pending writes, then snapshots the namespace.
func (h *Handlers) createBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Flush(r.Context()); err != nil {
		writeError(w, storeError("", err))
		return
	}
	file, err := h.backups.RunBackupNow()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"file": filepath.Base(file),
	})
}

// listBackups returns the names of available backup files.
func (h *Handlers) listBackups(w http.ResponseWriter, r *http.Request) {
	files, err := maintenance.ListBackups(h.backups.Dir())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
		})
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backups": names,
	})
}
