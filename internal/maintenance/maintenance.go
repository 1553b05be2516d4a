// Package maintenance provides background maintenance for the settings daemon:
// periodic JSON snapshots of the namespace and pruning of old snapshots.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/betterseqta/settings-go/internal/models"
)

const (
	backupPrefix = "settings-"
	backupSuffix = ".json"
	stampLayout  = "20060102-150405"
)

// Source provides the namespace to back up.
type Source interface {
	All() models.Namespace
}

// Backup is the on-disk snapshot format.
type Backup struct {
	CreatedAt time.Time        `json:"createdAt"`
	Settings  models.Namespace `json:"settings"`
}

// Service takes periodic backups of a Source.
type Service struct {
	src      Source
	dir      string
	interval time.Duration
	retain   time.Duration
	now      func() time.Time
}

// New creates a maintenance Service writing to dir. A zero interval disables
// periodic backups; a zero retain keeps every backup.
func New(src Source, dir string, interval, retain time.Duration) *Service {
	return &Service{
		src:      src,
		dir:      dir,
		interval: interval,
		retain:   retain,
		now:      time.Now,
	}
}

// Dir returns the backup directory.
func (s *Service) Dir() string { return s.dir }

// Start runs periodic backups until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := s.RunBackupNow()
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// RunBackupNow performs a backup immediately and returns the backup file path or error.
func (s *Service) RunBackupNow() (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	now := s.now()
	data, err := json.MarshalIndent(Backup{CreatedAt: now.UTC(), Settings: s.src.All()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	dest := filepath.Join(s.dir, backupPrefix+now.Format(stampLayout)+backupSuffix)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename backup: %w", err)
	}

	if s.retain > 0 {
		pruneOldBackups(s.dir, now.Add(-s.retain))
	}
	return dest, nil
}

// ListBackups returns available backup files in dir sorted by name (newest last).
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() || !isBackupName(e.Name()) {
			return "", false
		}
		return filepath.Join(dir, e.Name()), true
	})
	slices.Sort(files)
	return files, nil
}

// LoadBackup reads a backup file written by RunBackupNow.
func LoadBackup(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse backup %s: %w", filepath.Base(path), err)
	}
	if b.Settings == nil {
		return nil, fmt.Errorf("parse backup %s: no settings object", filepath.Base(path))
	}
	ns, err := models.NormalizeAll(b.Settings)
	if err != nil {
		return nil, fmt.Errorf("parse backup %s: %w", filepath.Base(path), err)
	}
	b.Settings = ns
	return &b, nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

// pruneOldBackups deletes backup files modified before cutoff.
func pruneOldBackups(backupDir string, cutoff time.Time) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
