package dialog

import (
	"errors"
	"sync"

	"github.com/nextlevelbuilder/minds/internal/journal"
)

// ErrMutexBusy is returned when locking a key that is already locked.
var ErrMutexBusy = errors.New("dialog: subdialog mutex busy")

// MutexKey formats the canonical "<agentId>!<topicId>" key.
func MutexKey(agentID, topicID string) string {
	return agentID + "!" + topicID
}

// MutexEntry is one row of the subdialog mutex table.
type MutexEntry struct {
	Key         string
	AgentID     string
	TopicID     string
	SubdialogID string
	Locked      bool
}

// SubdialogMutex coordinates teammate calls racing for the same
// (agentId, topicId) topical subdialog. At most one entry per key is
// locked at any time; an unlocked entry survives so a later call with
// the same key resumes the same subdialog.
type SubdialogMutex struct {
	mu      sync.Mutex
	entries map[string]*MutexEntry
}

// NewSubdialogMutex returns an empty table.
func NewSubdialogMutex() *SubdialogMutex {
	return &SubdialogMutex{entries: make(map[string]*MutexEntry)}
}

// Lock creates or relocks the entry for (agentID, topicID), pointing
// it at subdialogID. Locking an entry that is currently locked fails
// with ErrMutexBusy regardless of the subdialog id passed.
func (m *SubdialogMutex) Lock(agentID, topicID, subdialogID string) (MutexEntry, error) {
	key := MutexKey(agentID, topicID)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &MutexEntry{Key: key, AgentID: agentID, TopicID: topicID}
		m.entries[key] = e
	} else if e.Locked {
		return *e, ErrMutexBusy
	}
	e.SubdialogID = subdialogID
	e.Locked = true
	return *e, nil
}

// Unlock clears the lock bit. The entry is preserved so the key
// resumes the same subdialog later. Returns false for unknown keys.
func (m *SubdialogMutex) Unlock(agentID, topicID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[MutexKey(agentID, topicID)]
	if !ok {
		return false
	}
	e.Locked = false
	return true
}

// Remove deletes the entry irrespective of lock state.
func (m *SubdialogMutex) Remove(agentID, topicID string) bool {
	key := MutexKey(agentID, topicID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

// IsLocked reports the lock bit for a key; unknown keys are unlocked.
func (m *SubdialogMutex) IsLocked(agentID, topicID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[MutexKey(agentID, topicID)]
	return ok && e.Locked
}

// Lookup returns a copy of the entry for a key.
func (m *SubdialogMutex) Lookup(agentID, topicID string) (MutexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[MutexKey(agentID, topicID)]
	if !ok {
		return MutexEntry{}, false
	}
	return *e, true
}

// GetAll returns copies of every entry.
func (m *SubdialogMutex) GetAll() []MutexEntry {
	return m.filter(func(*MutexEntry) bool { return true })
}

// GetLocked returns copies of the locked entries.
func (m *SubdialogMutex) GetLocked() []MutexEntry {
	return m.filter(func(e *MutexEntry) bool { return e.Locked })
}

// GetUnlocked returns copies of the unlocked entries.
func (m *SubdialogMutex) GetUnlocked() []MutexEntry {
	return m.filter(func(e *MutexEntry) bool { return !e.Locked })
}

func (m *SubdialogMutex) filter(keep func(*MutexEntry) bool) []MutexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MutexEntry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

// ForceUnlockAll clears every lock bit. Used by revival on clean
// startup, when no driver can still hold a lock.
func (m *SubdialogMutex) ForceUnlockAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.Locked = false
	}
}

// Snapshot converts the table to its persisted registry.yaml form.
func (m *SubdialogMutex) Snapshot() []journal.MutexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.MutexEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, journal.MutexEntry{
			AgentID:     e.AgentID,
			TopicID:     e.TopicID,
			SubdialogID: e.SubdialogID,
			Locked:      e.Locked,
		})
	}
	return out
}

// RestoreMutex rebuilds a table from its persisted form.
func RestoreMutex(entries []journal.MutexEntry) *SubdialogMutex {
	m := NewSubdialogMutex()
	for _, e := range entries {
		key := MutexKey(e.AgentID, e.TopicID)
		m.entries[key] = &MutexEntry{
			Key:         key,
			AgentID:     e.AgentID,
			TopicID:     e.TopicID,
			SubdialogID: e.SubdialogID,
			Locked:      e.Locked,
		}
	}
	return m
}
