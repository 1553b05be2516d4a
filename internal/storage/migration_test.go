package storage_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/storage"
)

func TestMigrate_EmptyGetsDefaults(t *testing.T) {
	updates, removals := storage.Migrate(models.Namespace{})

	if diff := cmp.Diff(models.DefaultValues(), updates); diff != "" {
		t.Errorf("Migrate(empty) mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, removals)
}

func TestMigrate_KeepsUserValues(t *testing.T) {
	current := models.DefaultValues()
	current["DarkMode"] = false
	current["selectedColor"] = "#123456"

	updates, _ := storage.Migrate(current)
	assert.Empty(t, updates, "an up-to-date namespace needs no updates")
}

func TestMigrate_MergesNestedObjects(t *testing.T) {
	current := models.DefaultValues()
	current["subjectfilters"] = "garbage"
	current["menuitems"] = map[string]any{"home": map[string]any{"toggle": false}}

	updates, _ := storage.Migrate(current)
	assert.Equal(t, map[string]any{}, updates["subjectfilters"])
	assert.NotContains(t, updates, "menuitems", "stored object already contains every default field")
}

func TestMigrate_ShortcutsPaddedAndTruncated(t *testing.T) {
	current := models.DefaultValues()
	current["shortcuts"] = []any{
		map[string]any{"name": "YouTube", "enabled": true},
	}

	updates, _ := storage.Migrate(current)
	list := updates["shortcuts"].([]any)
	require.Len(t, list, 12)
	assert.Equal(t, map[string]any{"name": "YouTube", "enabled": true}, list[0])
	assert.Equal(t, map[string]any{"name": "Outlook", "enabled": true}, list[1])

	long := make([]any, 20)
	for i := range long {
		long[i] = map[string]any{"name": "x", "enabled": false}
	}
	current["shortcuts"] = long
	updates, _ = storage.Migrate(current)
	assert.Len(t, updates["shortcuts"].([]any), 12)
}

func TestMigrate_LegacyShortcutFields(t *testing.T) {
	current := models.DefaultValues()
	list := current["shortcuts"].([]any)
	list[0] = map[string]any{"Name": "YouTube", "enabled": true}
	list[11] = map[string]any{"name": "educationperfect", "enabled": true}

	updates, _ := storage.Migrate(current)
	got := updates["shortcuts"].([]any)
	assert.Equal(t, map[string]any{"name": "YouTube", "enabled": true}, got[0])
	assert.Equal(t, map[string]any{"name": "Education Perfect", "enabled": true}, got[11])

	// current is left untouched
	assert.Contains(t, current["shortcuts"].([]any)[0], "Name")
}

func TestMigrate_CustomShortcutsVerbatim(t *testing.T) {
	current := models.DefaultValues()
	current["customshortcuts"] = []any{
		map[string]any{"name": "Docs", "url": "https://example.com", "icon": "D"},
	}
	updates, _ := storage.Migrate(current)
	assert.NotContains(t, updates, "customshortcuts")
}

func TestMigrate_RemovesJustUpdated(t *testing.T) {
	current := models.DefaultValues()
	current[models.JustUpdatedKey] = true
	updates, removals := storage.Migrate(current)
	assert.Empty(t, updates)
	assert.Equal(t, []string{models.JustUpdatedKey}, removals)
}

func TestMigrate_FlagsUpdate(t *testing.T) {
	current := models.DefaultValues()
	delete(current, "selectedColor")

	updates, removals := storage.Migrate(current)
	assert.Equal(t, true, updates[models.JustUpdatedKey])
	assert.Contains(t, updates, "selectedColor")
	assert.Empty(t, removals)
}

func TestMigrate_FreshInstallIsNotAnUpdate(t *testing.T) {
	updates, _ := storage.Migrate(models.Namespace{models.JustUpdatedKey: true})
	assert.NotContains(t, updates, models.JustUpdatedKey)
}

func TestApplyDefaults(t *testing.T) {
	a := storage.NewMemAdapter(storage.WithInitial(map[string]any{
		"DarkMode":             false,
		models.JustUpdatedKey: true,
	}))
	defer a.Close()

	require.NoError(t, storage.ApplyDefaults(context.Background(), a))

	ns := a.Snapshot()
	assert.Equal(t, false, ns["DarkMode"], "stored value wins over default")
	assert.Equal(t, true, ns["onoff"])
	assert.Equal(t, true, ns[models.JustUpdatedKey], "migrating older settings flags the update")

	// The next start has nothing to migrate and clears the flag.
	require.NoError(t, storage.ApplyDefaults(context.Background(), a))
	assert.NotContains(t, a.Snapshot(), models.JustUpdatedKey)
}
