package dialog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/minds/internal/journal"
)

// CallType classifies a tellask call.
type CallType string

const (
	// CallTypeA is a self or human question.
	CallTypeA CallType = "A"
	// CallTypeB is a topical teammate call: "@agent !topic",
	// mutex-tracked and resumable.
	CallTypeB CallType = "B"
	// CallTypeC is a transient teammate call: "@agent" with no topic.
	CallTypeC CallType = "C"
)

// PendingSubdialog tracks one in-flight child on its parent.
type PendingSubdialog struct {
	SubdialogID   ID
	CreatedAt     time.Time
	HeadLine      string
	TargetAgentID string
	CallType      CallType
}

// RootDialog is a top-level dialog created by the first user prompt.
// It owns the subdialog mutex, the pending-child bookkeeping, and the
// diligence auto-continuation budget.
type RootDialog struct {
	Dialog

	Mutex *SubdialogMutex

	pendingSubdialogs map[string]PendingSubdialog // selfId → record
	children          map[string]*SubDialog       // selfId → live child
	registered        map[string]*SubDialog       // "agent!topic" → topical child

	diligenceMax       int
	diligenceRemaining int
}

// NewRoot creates a fresh root dialog persisted under the store.
func NewRoot(agentID, taskDocPath string, diligenceMax int, store *journal.Store) (*RootDialog, error) {
	if diligenceMax < 0 {
		diligenceMax = 0
	}
	r := &RootDialog{
		Dialog:            newDialog(NewRootID(), agentID, taskDocPath, store),
		Mutex:             NewSubdialogMutex(),
		pendingSubdialogs: make(map[string]PendingSubdialog),
		children:          make(map[string]*SubDialog),
		registered:        make(map[string]*SubDialog),
		diligenceMax:      diligenceMax,
	}
	now := time.Now().UTC()
	err := store.SaveMeta(r.id.SelfID, journal.Meta{
		AgentID:      agentID,
		TaskDocPath:  taskDocPath,
		RootID:       r.id.RootID,
		CreatedAt:    now,
		LastModified: now,
	})
	if err != nil {
		return nil, fmt.Errorf("persist root meta: %w", err)
	}
	return r, nil
}

// DiligenceMax returns the configured per-turn budget.
func (r *RootDialog) DiligenceMax() int { return r.diligenceMax }

// ResetDiligence restores the budget to its configured max. Called at
// the start of every user-initiated turn.
func (r *RootDialog) ResetDiligence() {
	r.mu.Lock()
	r.diligenceRemaining = r.diligenceMax
	r.mu.Unlock()
}

// DiligenceRemaining returns the budget left in this turn.
func (r *RootDialog) DiligenceRemaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diligenceRemaining
}

// ConsumeDiligence decrements the budget by one unit. Returns the
// remaining count and false when the budget was already exhausted.
func (r *RootDialog) ConsumeDiligence() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.diligenceRemaining <= 0 {
		return 0, false
	}
	r.diligenceRemaining--
	return r.diligenceRemaining, true
}

// AddPending records an in-flight child.
func (r *RootDialog) AddPending(p PendingSubdialog) {
	r.mu.Lock()
	r.pendingSubdialogs[p.SubdialogID.SelfID] = p
	r.mu.Unlock()
}

// RemovePending drops a completed child's record.
func (r *RootDialog) RemovePending(subdialogID ID) {
	r.mu.Lock()
	delete(r.pendingSubdialogs, subdialogID.SelfID)
	r.mu.Unlock()
}

// PendingCount returns the number of in-flight children.
func (r *RootDialog) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingSubdialogs)
}

// PendingIDs returns the ids of in-flight children.
func (r *RootDialog) PendingIDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ID, 0, len(r.pendingSubdialogs))
	for _, p := range r.pendingSubdialogs {
		out = append(out, p.SubdialogID)
	}
	return out
}

// AdoptChild indexes a live subdialog on the root. Topical children
// are additionally registered under their mutex key.
func (r *RootDialog) AdoptChild(sd *SubDialog) {
	r.mu.Lock()
	r.children[sd.id.SelfID] = sd
	if sd.topicID != "" {
		r.registered[MutexKey(sd.agentID, sd.topicID)] = sd
	}
	r.mu.Unlock()
}

// Child looks up a live subdialog by selfId.
func (r *RootDialog) Child(selfID string) (*SubDialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.children[selfID]
	return sd, ok
}

// Children returns the live subdialogs.
func (r *RootDialog) Children() []*SubDialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SubDialog, 0, len(r.children))
	for _, sd := range r.children {
		out = append(out, sd)
	}
	return out
}

// RegisteredSubdialog returns the live topical child for a mutex key,
// distinct from the mutex itself: the mutex tracks lock state, this
// is the object reference.
func (r *RootDialog) RegisteredSubdialog(agentID, topicID string) (*SubDialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.registered[MutexKey(agentID, topicID)]
	return sd, ok
}

// ReleaseChild removes a subdialog from the root's maps. The child is
// destroyed first, then dropped here; the mutex entry (if topical)
// stays so the topic can resume in a fresh subdialog.
func (r *RootDialog) ReleaseChild(sd *SubDialog) {
	r.mu.Lock()
	delete(r.children, sd.id.SelfID)
	if sd.topicID != "" {
		key := MutexKey(sd.agentID, sd.topicID)
		if r.registered[key] == sd {
			delete(r.registered, key)
		}
	}
	delete(r.pendingSubdialogs, sd.id.SelfID)
	r.mu.Unlock()
}

// SaveMutex persists the subdialog mutex table to registry.yaml.
func (r *RootDialog) SaveMutex() {
	if err := r.store.SaveRegistry(r.id.SelfID, r.Mutex.Snapshot()); err != nil {
		slog.Warn("persist subdialog registry failed", "dialog", r.id.Key(), "error", err)
	}
}

// AddPendingSummary appends a completed child's summary for folding
// into the next driving step.
func (r *RootDialog) AddPendingSummary(subdialogID ID, summary string) error {
	return r.store.AddPendingSummary(r.id.SelfID, journal.PendingSummary{
		SubdialogID: subdialogID.Key(),
		Summary:     summary,
		CompletedAt: time.Now().UTC(),
	})
}

// TakePendingSummaries atomically reads and clears the summaries
// awaiting incorporation.
func (r *RootDialog) TakePendingSummaries() ([]journal.PendingSummary, error) {
	return r.store.TakePendingSummaries(r.id.SelfID)
}

// HasPendingSummaries reports whether unfolded summaries exist.
func (r *RootDialog) HasPendingSummaries() bool {
	list, err := r.store.PeekPendingSummaries(r.id.SelfID)
	return err == nil && len(list) > 0
}
