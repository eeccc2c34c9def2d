package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Meta is the meta.json record of one dialog directory. ParentID is
// set on subdialog directories and points at the root's selfId.
type Meta struct {
	AgentID      string    `json:"agentId"`
	TaskDocPath  string    `json:"taskDocPath,omitempty"`
	RootID       string    `json:"rootId"`
	ParentID     string    `json:"parentId,omitempty"`
	TopicID      string    `json:"topicId,omitempty"`
	OriginRole   string    `json:"originRole,omitempty"`
	OriginMember string    `json:"originMemberId,omitempty"`
	CallerDialog string    `json:"callerDialogId,omitempty"`
	CallID       string    `json:"callId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	// Completion is "" while the dialog is live, "complete" after a
	// terminal accept, "failed" after death.
	Completion string `json:"completion,omitempty"`
}

// Reminder is the persisted form of one reminder. Meta is kept
// verbatim for forward compatibility.
type Reminder struct {
	Content   string          `json:"content"`
	OwnerName string          `json:"ownerName"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// PendingSummary is one completed-subdialog summary awaiting folding
// into the parent's next driving step.
type PendingSummary struct {
	SubdialogID string    `json:"subdialogId"`
	Summary     string    `json:"summary"`
	CompletedAt time.Time `json:"completedAt"`
}

// MutexEntry is one persisted subdialog mutex row in registry.yaml.
type MutexEntry struct {
	AgentID     string `yaml:"agentId"`
	TopicID     string `yaml:"topicId"`
	SubdialogID string `yaml:"subdialogId"`
	Locked      bool   `yaml:"locked"`
}

// summaryMu serializes read-modify-write cycles on a dialog's
// pending-summaries.json (add vs take-all).
var summaryMu sync.Mutex

// SaveMeta writes meta.json.
func (s *Store) SaveMeta(selfID string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.DialogDir(selfID), "meta.json"), data)
}

// LoadMeta reads meta.json.
func (s *Store) LoadMeta(selfID string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(filepath.Join(s.DialogDir(selfID), "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse meta.json for %s: %w", selfID, err)
	}
	return m, nil
}

// SaveReminders atomically replaces reminders.json.
func (s *Store) SaveReminders(selfID string, reminders []Reminder) error {
	if reminders == nil {
		reminders = []Reminder{}
	}
	data, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.DialogDir(selfID), "reminders.json"), data)
}

// LoadReminders reads reminders.json. A missing file is an empty list.
func (s *Store) LoadReminders(selfID string) ([]Reminder, error) {
	data, err := os.ReadFile(filepath.Join(s.DialogDir(selfID), "reminders.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var reminders []Reminder
	if err := json.Unmarshal(data, &reminders); err != nil {
		return nil, fmt.Errorf("parse reminders.json for %s: %w", selfID, err)
	}
	return reminders, nil
}

// AddPendingSummary appends one summary record to the dialog's
// pending-summaries.json.
func (s *Store) AddPendingSummary(selfID string, ps PendingSummary) error {
	summaryMu.Lock()
	defer summaryMu.Unlock()
	list, err := s.loadPendingSummaries(selfID)
	if err != nil {
		return err
	}
	list = append(list, ps)
	return s.writePendingSummaries(selfID, list)
}

// TakePendingSummaries atomically reads and clears the dialog's
// pending summaries.
func (s *Store) TakePendingSummaries(selfID string) ([]PendingSummary, error) {
	summaryMu.Lock()
	defer summaryMu.Unlock()
	list, err := s.loadPendingSummaries(selfID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	if err := s.writePendingSummaries(selfID, nil); err != nil {
		return nil, err
	}
	return list, nil
}

// PeekPendingSummaries returns the pending summaries without clearing.
func (s *Store) PeekPendingSummaries(selfID string) ([]PendingSummary, error) {
	summaryMu.Lock()
	defer summaryMu.Unlock()
	return s.loadPendingSummaries(selfID)
}

func (s *Store) loadPendingSummaries(selfID string) ([]PendingSummary, error) {
	data, err := os.ReadFile(filepath.Join(s.DialogDir(selfID), "pending-summaries.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var list []PendingSummary
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse pending-summaries.json for %s: %w", selfID, err)
	}
	return list, nil
}

func (s *Store) writePendingSummaries(selfID string, list []PendingSummary) error {
	if list == nil {
		list = []PendingSummary{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.DialogDir(selfID), "pending-summaries.json"), data)
}

// SaveRegistry writes the subdialog mutex table to registry.yaml.
func (s *Store) SaveRegistry(selfID string, entries []MutexEntry) error {
	if entries == nil {
		entries = []MutexEntry{}
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.DialogDir(selfID), "registry.yaml"), data)
}

// LoadRegistry reads registry.yaml. A missing file is an empty table.
func (s *Store) LoadRegistry(selfID string) ([]MutexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.DialogDir(selfID), "registry.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []MutexEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse registry.yaml for %s: %w", selfID, err)
	}
	return entries, nil
}

// ListDialogs returns the selfIds of every dialog directory under the
// store root.
func (s *Store) ListDialogs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "run"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// DeleteDialog removes a dialog directory entirely.
func (s *Store) DeleteDialog(selfID string) error {
	return os.RemoveAll(s.DialogDir(selfID))
}

// SetCompletion updates the completion marker on meta.json.
func (s *Store) SetCompletion(selfID, completion string) error {
	m, err := s.LoadMeta(selfID)
	if err != nil {
		return err
	}
	m.Completion = completion
	m.LastModified = time.Now().UTC()
	return s.SaveMeta(selfID, m)
}

// TouchMeta bumps lastModified on an existing meta.json; missing meta
// is not an error.
func (s *Store) TouchMeta(selfID string) {
	m, err := s.LoadMeta(selfID)
	if err != nil {
		return
	}
	m.LastModified = time.Now().UTC()
	_ = s.SaveMeta(selfID, m)
}
