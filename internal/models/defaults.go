package models

// DefaultSelectedColor is the accent gradient applied on first install.
const DefaultSelectedColor = "linear-gradient(40deg, rgba(201,61,0,1) 0%, RGBA(170, 5, 58, 1) 100%)"

// JustUpdatedKey marks the first run after an update; the next start that
// finds nothing to migrate clears it.
const JustUpdatedKey = "justupdated"

// DefaultShortcuts returns the built-in shortcut list in display order.
func DefaultShortcuts() []Shortcut {
	return []Shortcut{
		{Name: "YouTube", Enabled: false},
		{Name: "Outlook", Enabled: true},
		{Name: "Office", Enabled: true},
		{Name: "Spotify", Enabled: false},
		{Name: "Google", Enabled: true},
		{Name: "DuckDuckGo", Enabled: false},
		{Name: "Cool Math Games", Enabled: false},
		{Name: "SACE", Enabled: false},
		{Name: "Google Scholar", Enabled: false},
		{Name: "Gmail", Enabled: false},
		{Name: "Netflix", Enabled: false},
		{Name: "Education Perfect", Enabled: false},
	}
}

// DefaultValues returns the namespace written on install and on reset, in
// canonical form.
func DefaultValues() Namespace {
	shortcuts := DefaultShortcuts()
	list := make([]any, len(shortcuts))
	for i, s := range shortcuts {
		list[i] = map[string]any{"name": s.Name, "enabled": s.Enabled}
	}

	return Namespace{
		"onoff":                 true,
		"animatedbk":            true,
		"bksliderinput":         float64(50),
		"transparencyEffects":   false,
		"lessonalert":           true,
		"notificationcollector": true,
		"defaultmenuorder":      []any{},
		"menuitems":             map[string]any{},
		"menuorder":             []any{},
		"subjectfilters":        map[string]any{},
		"selectedColor":         DefaultSelectedColor,
		"DarkMode":              true,
		"shortcuts":             list,
		"customshortcuts":       []any{},
	}
}
