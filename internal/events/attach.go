package events

import (
	"time"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/settings"
)

// Attach publishes every change applied to store on the bus.
func (b *Bus) Attach(store *settings.Store) (settings.Unregister, error) {
	return store.RegisterGlobal(func(newValue, oldValue any, key string) {
		b.Publish(models.ChangeEvent{
			Key:      key,
			OldValue: oldValue,
			NewValue: newValue,
			Removed:  newValue == nil,
			At:       time.Now().UTC(),
		})
	})
}
