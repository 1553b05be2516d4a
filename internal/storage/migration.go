package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/betterseqta/settings-go/internal/models"
)

// keepVerbatim lists keys whose stored value always survives migration as-is.
var keepVerbatim = map[string]bool{
	"customshortcuts": true,
}

// Migrate returns the updates that bring a stored namespace up to the current
// schema, plus keys that should be removed. current is not modified.
// justupdated is set when an existing namespace needed migrating and removed
// otherwise.
func Migrate(current models.Namespace) (updates models.Namespace, removals []string) {
	next := current.Clone()
	migrateShortcuts(next)

	for key, def := range models.DefaultValues() {
		stored, ok := next[key]
		if !ok {
			next[key] = def
			continue
		}
		if keepVerbatim[key] {
			continue
		}
		switch d := def.(type) {
		case map[string]any:
			next[key] = mergeObject(d, stored)
		case []any:
			// Empty defaults carry no shape to enforce.
			if len(d) > 0 {
				next[key] = mergeList(d, stored)
			}
		}
	}

	updates = make(models.Namespace)
	for key, v := range next {
		if old, ok := current[key]; !ok || !models.Equal(old, v) {
			updates[key] = v
		}
	}
	// Migrating settings written by an older version marks the update until
	// the next start that finds nothing to migrate. A fresh install is not
	// an update.
	if len(updates) > 0 && hasStoredSettings(current) {
		updates[models.JustUpdatedKey] = true
	} else if _, ok := current[models.JustUpdatedKey]; ok {
		removals = append(removals, models.JustUpdatedKey)
	}
	return updates, removals
}

func hasStoredSettings(ns models.Namespace) bool {
	for k := range ns {
		if k != models.JustUpdatedKey {
			return true
		}
	}
	return false
}

// mergeObject overlays a stored object on its default. Non-object stored
// values are replaced by the default.
func mergeObject(def map[string]any, stored any) map[string]any {
	out := models.CloneValue(def).(map[string]any)
	if m, ok := stored.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// mergeList keeps stored entries position by position and pads or truncates
// to the default length.
func mergeList(def []any, stored any) []any {
	list, _ := stored.([]any)
	out := make([]any, len(def))
	for i := range def {
		if i < len(list) && list[i] != nil {
			out[i] = list[i]
		} else {
			out[i] = models.CloneValue(def[i])
		}
	}
	return out
}

// migrateShortcuts renames the legacy "Name" field and the old Education
// Perfect identifier.
func migrateShortcuts(ns models.Namespace) {
	list, ok := ns["shortcuts"].([]any)
	if !ok {
		return
	}
	for i, item := range list {
		sc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := sc["Name"]; ok {
			sc = map[string]any{"name": name, "enabled": sc["enabled"]}
			list[i] = sc
		}
		if sc["name"] == "educationperfect" {
			sc["name"] = "Education Perfect"
		}
	}
}

// ApplyDefaults migrates the namespace held by a and writes the result back.
func ApplyDefaults(ctx context.Context, a Adapter) error {
	current, err := a.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	updates, removals := Migrate(current)
	if len(updates) > 0 {
		if err := a.WriteAll(ctx, updates); err != nil {
			return fmt.Errorf("write migrated settings: %w", err)
		}
		slog.Info("storage: migrated settings", "keys", len(updates))
	}
	if len(removals) > 0 {
		if err := a.Remove(ctx, removals...); err != nil {
			return fmt.Errorf("remove stale settings: %w", err)
		}
	}
	return nil
}
