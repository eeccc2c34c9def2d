package dialog

import (
	"encoding/json"
	"sync"
)

// ReminderOwner is the tool (or other component) that manages a
// reminder's lifecycle. Owners are rebound by name after revival.
type ReminderOwner interface {
	OwnerName() string
}

// Reminder is one named note injected into the dialog's context on
// every driving step. Owner is nil when the owning tool has not (yet)
// re-registered; such reminders are kept so user data survives
// forward.
type Reminder struct {
	Content   string
	OwnerName string
	Meta      json.RawMessage
	Owner     ReminderOwner
}

// ownerRegistry is the process-wide owner table, keyed by owner name.
var ownerRegistry = struct {
	mu     sync.RWMutex
	owners map[string]ReminderOwner
}{owners: make(map[string]ReminderOwner)}

// RegisterReminderOwner makes an owner available for rebinding.
func RegisterReminderOwner(o ReminderOwner) {
	ownerRegistry.mu.Lock()
	ownerRegistry.owners[o.OwnerName()] = o
	ownerRegistry.mu.Unlock()
}

// LookupReminderOwner resolves an owner by name.
func LookupReminderOwner(name string) (ReminderOwner, bool) {
	ownerRegistry.mu.RLock()
	defer ownerRegistry.mu.RUnlock()
	o, ok := ownerRegistry.owners[name]
	return o, ok
}
