// Package auth implements API token authentication for the settings daemon.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

const tokensFileName = "tokens.json"

// Token is one named client credential in tokens.json.
type Token struct {
	Token   string `json:"token"`
	Comment string `json:"comment,omitempty"`
}

// Service holds the configured tokens and reloads them when tokens.json changes.
type Service struct {
	mu      sync.RWMutex
	dir     string
	tokens  map[string]Token
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewService loads tokens.json from dir and watches it for changes.
// An empty dir or a missing file leaves the service in open mode.
func NewService(dir string) (*Service, error) {
	s := &Service{
		dir:    dir,
		tokens: make(map[string]Token),
		done:   make(chan struct{}),
	}
	if dir == "" {
		close(s.done)
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		close(s.done)
		return s, nil
	}
	s.watcher = watcher

	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch data dir", "dir", dir, "err", err)
	}

	go s.watchLoop(s.tokensPath())
	return s, nil
}

func (s *Service) tokensPath() string {
	return filepath.Join(s.dir, tokensFileName)
}

// Reload re-reads tokens.json. A missing file clears all tokens.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.tokensPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.tokens = make(map[string]Token)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var tokens map[string]Token
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tokens); err != nil {
			return fmt.Errorf("parse %s: %w", tokensFileName, err)
		}
	}
	tokens = lo.PickBy(tokens, func(_ string, t Token) bool { return t.Token != "" })

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	slog.Debug("auth: reloaded tokens", "count", len(tokens))
	return nil
}

// IsOpenMode returns true if no tokens are configured.
// In open mode, all requests are allowed without authentication.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) == 0
}

// Verify returns the name of the token matching key.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(key), []byte(t.Token)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	<-s.done
}

func (s *Service) watchLoop(tokensPath string) {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != tokensPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload tokens", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
