package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/betterseqta/settings-go/internal/api"
	"github.com/betterseqta/settings-go/internal/auth"
	"github.com/betterseqta/settings-go/internal/events"
	"github.com/betterseqta/settings-go/internal/maintenance"
	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/settings"
	"github.com/betterseqta/settings-go/internal/storage"
)

type testServer struct {
	*httptest.Server
	store   *settings.Store
	adapter *storage.MemAdapter
	bus     *events.Bus
}

type serverOpts struct {
	initial   map[string]any
	authDir   string
	backupDir string
}

// newTestServer spins up a full router over an in-memory store.
func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()

	adapter := storage.NewMemAdapter(storage.WithInitial(opts.initial))
	store := settings.New(adapter)
	bus := events.NewBus()
	if _, err := bus.Attach(store); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	authSvc, err := auth.NewService(opts.authDir)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	var backups api.Backups
	if opts.backupDir != "" {
		backups = maintenance.New(store, opts.backupDir, 0, 0)
	}

	router := api.NewRouter(store, authSvc, bus, backups, api.Info{Version: "test", Backend: storage.BackendMemory})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
		authSvc.Close()
		store.Close(context.Background())
		adapter.Close()
	})
	return &testServer{Server: srv, store: store, adapter: adapter, bus: bus}
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *testServer, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code string) models.AppError {
	t.Helper()
	requireStatus(t, resp, status)
	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != code {
		t.Errorf("error code = %q, want %q", appErr.Code, code)
	}
	return appErr
}

// --- Tests ---

func TestGetSettings(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"DarkMode": true, "selectedTheme": "ocean"}})

	resp := do(t, srv, http.MethodGet, "/api/settings", "")
	requireStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Settings-State"); got != "ready" {
		t.Errorf("X-Settings-State = %q, want ready", got)
	}

	var ns map[string]any
	decodeJSON(t, resp, &ns)
	if ns["DarkMode"] != true || ns["selectedTheme"] != "ocean" {
		t.Errorf("GET /api/settings = %v", ns)
	}
}

func TestPutAndGetSetting(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	resp := do(t, srv, http.MethodPut, "/api/settings/menuorder", `["home","timetable"]`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, srv, http.MethodGet, "/api/settings/menuorder", "")
	requireStatus(t, resp, http.StatusOK)
	var got struct {
		Key   string `json:"key"`
		Value []any  `json:"value"`
	}
	decodeJSON(t, resp, &got)
	if got.Key != "menuorder" || len(got.Value) != 2 || got.Value[0] != "home" {
		t.Errorf("GET menuorder = %+v", got)
	}

	// Persisted through the adapter as well.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := srv.adapter.Snapshot()["menuorder"]; !ok {
		t.Error("menuorder not written to the adapter")
	}
}

func TestPutSetting_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodPut, "/api/settings/DarkMode", `{not json`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestPutSetting_EmptyBody(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	appErr := requireErrorCode(t, do(t, srv, http.MethodPut, "/api/settings/DarkMode", ""), http.StatusBadRequest, "BAD_REQUEST")
	if !strings.Contains(appErr.Message, "empty") {
		t.Errorf("message = %q, want mention of empty body", appErr.Message)
	}
}

func TestPutSetting_TrailingData(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodPut, "/api/settings/DarkMode", `true false`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestPutSetting_NullDeletes(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"timeFormat": "12"}})

	resp := do(t, srv, http.MethodPut, "/api/settings/timeFormat", `null`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if _, ok := srv.store.Get("timeFormat"); ok {
		t.Error("PUT null did not delete the key")
	}
}

func TestGetSetting_NotFound(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodGet, "/api/settings/neverSetKey", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestDeleteSetting(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"devMode": true}})

	resp := do(t, srv, http.MethodDelete, "/api/settings/devMode", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	requireErrorCode(t, do(t, srv, http.MethodGet, "/api/settings/devMode", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestPatchSettings(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"DarkMode": false, "newsSource": "abc"}})

	resp := do(t, srv, http.MethodPatch, "/api/settings", `{"DarkMode": true, "animations": false, "newsSource": null}`)
	requireStatus(t, resp, http.StatusOK)

	var ns map[string]any
	decodeJSON(t, resp, &ns)
	if ns["DarkMode"] != true || ns["animations"] != false {
		t.Errorf("PATCH result = %v", ns)
	}
	if _, ok := ns["newsSource"]; ok {
		t.Error("null in PATCH did not delete newsSource")
	}
}

func TestPatchSettings_NotObject(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodPatch, "/api/settings", `[1,2]`), http.StatusBadRequest, "BAD_REQUEST")
	requireErrorCode(t, do(t, srv, http.MethodPatch, "/api/settings", `null`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestResetSettings(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"DarkMode": false, "devMode": true}})

	resp := do(t, srv, http.MethodPost, "/api/settings/reset", "")
	requireStatus(t, resp, http.StatusOK)

	var ns map[string]any
	decodeJSON(t, resp, &ns)
	if ns["DarkMode"] != true {
		t.Errorf("DarkMode after reset = %v, want true", ns["DarkMode"])
	}
	if ns["selectedColor"] != models.DefaultSelectedColor {
		t.Errorf("selectedColor after reset = %v", ns["selectedColor"])
	}
	if ns["devMode"] != true {
		t.Error("reset must merge defaults, not clear unrelated keys")
	}
}

func TestGetStatus(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"onoff": true}})

	resp := do(t, srv, http.MethodGet, "/api/status", "")
	requireStatus(t, resp, http.StatusOK)

	var st struct {
		State       string `json:"state"`
		Keys        int    `json:"keys"`
		Subscribers int    `json:"subscribers"`
		Version     string `json:"version"`
		Backend     string `json:"backend"`
	}
	decodeJSON(t, resp, &st)
	if st.State != "ready" || st.Keys != 1 || st.Version != "test" || st.Backend != "memory" {
		t.Errorf("status = %+v", st)
	}
}

func TestNotFound_JSON(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodGet, "/api/nonexistent", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodDelete, "/api/settings", ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, serverOpts{})

	resp := do(t, srv, http.MethodOptions, "/api/settings/DarkMode", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("Access-Control-Allow-Methods = %q, want PUT included", got)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

func readEvent(t *testing.T, scanner *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Data != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before an event: %v", scanner.Err())
	return ev
}

func TestSSESubscribe(t *testing.T) {
	srv := newTestServer(t, serverOpts{initial: map[string]any{"DarkMode": false}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)

	first := readEvent(t, scanner)
	if first.Event != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", first.Event)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(first.Data), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != "ready" || snap.Settings["DarkMode"] != false {
		t.Errorf("snapshot = %+v", snap)
	}

	put := do(t, srv, http.MethodPut, "/api/settings/DarkMode", `true`)
	requireStatus(t, put, http.StatusOK)
	put.Body.Close()

	change := readEvent(t, scanner)
	if change.Event != "change" {
		t.Fatalf("second event = %q, want change", change.Event)
	}
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(change.Data), &ev); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if ev.Key != "DarkMode" || ev.NewValue != true || ev.OldValue != false {
		t.Errorf("change event = %+v", ev)
	}
}

func TestAuth_TokenRequired(t *testing.T) {
	dir := t.TempDir()
	tokens := `{"extension": {"token": "s3cret"}}`
	if err := os.WriteFile(filepath.Join(dir, "tokens.json"), []byte(tokens), 0644); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, serverOpts{authDir: dir})

	requireErrorCode(t, do(t, srv, http.MethodGet, "/api/settings", ""), http.StatusUnauthorized, "UNAUTHORIZED")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/settings", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Status stays public.
	resp = do(t, srv, http.MethodGet, "/api/status", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestBackups(t *testing.T) {
	dir := t.TempDir()
	srv := newTestServer(t, serverOpts{initial: map[string]any{"DarkMode": true}, backupDir: dir})

	resp := do(t, srv, http.MethodPost, "/api/backups", "")
	requireStatus(t, resp, http.StatusCreated)
	var created struct {
		File string `json:"file"`
	}
	decodeJSON(t, resp, &created)
	if !strings.HasPrefix(created.File, "settings-") {
		t.Errorf("backup file = %q", created.File)
	}

	resp = do(t, srv, http.MethodGet, "/api/backups", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Backups []string `json:"backups"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Backups) != 1 || list.Backups[0] != created.File {
		t.Errorf("backups = %v, want [%s]", list.Backups, created.File)
	}

	b, err := maintenance.LoadBackup(filepath.Join(dir, created.File))
	if err != nil {
		t.Fatalf("LoadBackup: %v", err)
	}
	if b.Settings["DarkMode"] != true {
		t.Errorf("backup settings = %v", b.Settings)
	}
}

func TestBackups_DisabledWithoutDir(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	requireErrorCode(t, do(t, srv, http.MethodPost, "/api/backups", ""), http.StatusNotFound, "NOT_FOUND")
}
