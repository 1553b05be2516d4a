package models

// Shortcut is one of the built-in quick links shown on the home page.
type Shortcut struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// CustomShortcut is a user-defined quick link.
type CustomShortcut struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon"`
}

// ToggleItem controls the visibility of one side-menu entry.
type ToggleItem struct {
	Toggle bool `json:"toggle"`
}
