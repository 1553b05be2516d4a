package settings

import "github.com/betterseqta/settings-go/internal/models"

// Key names a setting whose value has type T.
type Key[T any] struct {
	name string
}

// NewKey declares a typed key.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Name returns the storage key.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string { return k.name }

// Declared settings.
var (
	OnOff                 = NewKey[bool]("onoff")
	DarkMode              = NewKey[bool]("DarkMode")
	OriginalDarkMode      = NewKey[bool]("originalDarkMode")
	SelectedTheme         = NewKey[string]("selectedTheme")
	SelectedColor         = NewKey[string]("selectedColor")
	OriginalSelectedColor = NewKey[string]("originalSelectedColor")
	TransparencyEffects   = NewKey[bool]("transparencyEffects")
	Animations            = NewKey[bool]("animations")
	LessonAlert           = NewKey[bool]("lessonalert")
	TimeFormat            = NewKey[string]("timeFormat")
	DefaultPage           = NewKey[string]("defaultPage")
	DevMode               = NewKey[bool]("devMode")
	NewsSource            = NewKey[string]("newsSource")
	JustUpdated           = NewKey[bool](models.JustUpdatedKey)

	Shortcuts        = NewKey[[]models.Shortcut]("shortcuts")
	CustomShortcuts  = NewKey[[]models.CustomShortcut]("customshortcuts")
	MenuItems        = NewKey[map[string]models.ToggleItem]("menuitems")
	MenuOrder        = NewKey[[]string]("menuorder")
	DefaultMenuOrder = NewKey[[]string]("defaultmenuorder")
	SubjectFilters   = NewKey[map[string]any]("subjectfilters")

	// Legacy keys still written by older installs.
	AnimatedBackground    = NewKey[bool]("animatedbk")
	BackgroundSpeed       = NewKey[float64]("bksliderinput")
	LetterGrade           = NewKey[bool]("lettergrade")
	AssessmentsAverage    = NewKey[bool]("assessmentsAverage")
	NotificationCollector = NewKey[bool]("notificationcollector")
)
