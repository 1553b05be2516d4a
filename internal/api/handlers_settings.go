package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/betterseqta/settings-go/internal/models"
)

const stateHeader = "X-Settings-State"

// settingResponse is the body of single-key responses.
type settingResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(stateHeader, h.store.State().String())
	writeJSON(w, http.StatusOK, h.store.All())
}

// patchSettings merges a JSON object into the namespace. null deletes a key.
func (h *Handlers) patchSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeBody(w, r, &values); err != nil {
		writeError(w, err)
		return
	}
	if values == nil {
		writeError(w, models.ErrBadRequest("body must be a JSON object"))
		return
	}
	if err := h.store.SetMany(values); err != nil {
		writeError(w, storeError("", err))
		return
	}
	writeJSON(w, http.StatusOK, h.store.All())
}

// resetSettings writes the default values over the namespace.
func (h *Handlers) resetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetMany(models.DefaultValues()); err != nil {
		writeError(w, storeError("", err))
		return
	}
	writeJSON(w, http.StatusOK, h.store.All())
}

func (h *Handlers) getSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	w.Header().Set(stateHeader, h.store.State().String())
	v, ok := h.store.Get(key)
	if !ok {
		writeError(w, models.ErrNotFound("setting "+key+" is not set"))
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: v})
}

// putSetting replaces one key with the JSON value in the body.
func (h *Handlers) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var value any
	if err := decodeBody(w, r, &value); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Set(key, value); err != nil {
		writeError(w, storeError(key, err))
		return
	}
	v, _ := h.store.Get(key)
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: v})
}

func (h *Handlers) deleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.store.Delete(key); err != nil {
		writeError(w, storeError(key, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
