package dialog

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// RevivalSummary describes a revived tree.
type RevivalSummary struct {
	TotalMessages    int
	TotalRounds      int
	CompletionStatus string // incomplete | complete | failed
}

// Revived is the result of reconstructing one root dialog from disk.
type Revived struct {
	Root       *RootDialog
	Subdialogs map[string]*SubDialog // selfId → child
	Summary    RevivalSummary
}

// ReviveOptions tunes reconstruction.
type ReviveOptions struct {
	// DiligenceMax is the configured budget for the root's agent.
	DiligenceMax int
	// ForceUnlock clears every persisted mutex lock. Safe on clean
	// process startup: every driver that could hold a lock is dead.
	ForceUnlock bool
}

// Revive reconstructs the root dialog stored under rootSelfID, wires
// its subdialog hierarchy, and registers the root with reg.
func Revive(store *journal.Store, rootSelfID string, reg *Registry, opts ReviveOptions) (*Revived, error) {
	meta, err := store.LoadMeta(rootSelfID)
	if err != nil {
		return nil, fmt.Errorf("load meta for %s: %w", rootSelfID, err)
	}
	if meta.ParentID != "" {
		return nil, fmt.Errorf("dialog %s is a subdialog, not a root", rootSelfID)
	}
	if meta.RootID != rootSelfID {
		return nil, fmt.Errorf("dialog %s: selfId does not equal its rootId %s", rootSelfID, meta.RootID)
	}

	root := &RootDialog{
		Dialog:            newDialog(ID{RootID: rootSelfID, SelfID: rootSelfID}, meta.AgentID, meta.TaskDocPath, store),
		pendingSubdialogs: make(map[string]PendingSubdialog),
		children:          make(map[string]*SubDialog),
		registered:        make(map[string]*SubDialog),
		diligenceMax:      opts.DiligenceMax,
	}

	entries, err := store.LoadRegistry(rootSelfID)
	if err != nil {
		return nil, fmt.Errorf("load registry for %s: %w", rootSelfID, err)
	}
	root.Mutex = RestoreMutex(entries)
	if opts.ForceUnlock {
		root.Mutex.ForceUnlockAll()
		root.SaveMutex()
	}

	reminders, err := store.LoadReminders(rootSelfID)
	if err != nil {
		return nil, fmt.Errorf("load reminders for %s: %w", rootSelfID, err)
	}
	root.restoreReminders(reminders)

	summary, err := restoreTransient(&root.Dialog, store, rootSelfID)
	if err != nil {
		return nil, err
	}
	switch meta.Completion {
	case "complete":
		root.restoreState(StateTerminal, "")
		summary.CompletionStatus = "complete"
	case "failed":
		root.restoreState(StateDead, "")
		summary.CompletionStatus = "failed"
	default:
		summary.CompletionStatus = "incomplete"
	}

	// Subdialogs are sibling directories pointing back at this root.
	allIDs, err := store.ListDialogs()
	if err != nil {
		return nil, err
	}
	subdialogs := make(map[string]*SubDialog)
	for _, selfID := range allIDs {
		if selfID == rootSelfID {
			continue
		}
		m, err := store.LoadMeta(selfID)
		if err != nil {
			slog.Warn("skip unreadable dialog dir", "selfId", selfID, "error", err)
			continue
		}
		if m.ParentID != rootSelfID {
			continue
		}
		sd, err := restoreSub(root, selfID, m)
		if err != nil {
			return nil, err
		}
		subSummary, err := restoreTransient(&sd.Dialog, store, selfID)
		if err != nil {
			return nil, err
		}
		root.AdoptChild(sd)
		subdialogs[selfID] = sd
		summary.TotalMessages += subSummary.TotalMessages
		summary.TotalRounds += subSummary.TotalRounds
	}

	reg.Register(root)
	slog.Info("dialog revived", "root", rootSelfID,
		"subdialogs", len(subdialogs),
		"rounds", summary.TotalRounds,
		"status", summary.CompletionStatus)
	return &Revived{Root: root, Subdialogs: subdialogs, Summary: summary}, nil
}

// ReviveAll reconstructs every root found under the store.
func ReviveAll(store *journal.Store, reg *Registry, opts ReviveOptions) ([]*Revived, error) {
	ids, err := store.ListDialogs()
	if err != nil {
		return nil, err
	}
	var out []*Revived
	for _, selfID := range ids {
		meta, err := store.LoadMeta(selfID)
		if err != nil {
			slog.Warn("skip unreadable dialog dir", "selfId", selfID, "error", err)
			continue
		}
		if meta.ParentID != "" {
			continue // picked up by its root
		}
		rv, err := Revive(store, selfID, reg, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, nil
}

// restoreTransient recomputes round counter, genseq, open questions
// and block state from the dialog's journals.
func restoreTransient(d *Dialog, store *journal.Store, selfID string) (RevivalSummary, error) {
	var summary RevivalSummary
	rounds, err := store.Rounds(selfID)
	if err != nil {
		return summary, err
	}
	summary.TotalRounds = len(rounds)
	if len(rounds) == 0 {
		return summary, nil
	}

	for _, r := range rounds {
		events, err := store.ReadRoundEvents(selfID, r)
		if err != nil {
			return summary, err
		}
		for _, evt := range events {
			switch evt.Type {
			case protocol.RecordUserPrompt, protocol.RecordAgentWords, protocol.RecordTeammateResponse:
				summary.TotalMessages++
			}
		}
	}

	last := rounds[len(rounds)-1]
	events, err := store.ReadRoundEvents(selfID, last)
	if err != nil {
		return summary, err
	}
	genseq := 0
	open := make(map[string]string)
	for _, evt := range events {
		if evt.Genseq > genseq {
			genseq = evt.Genseq
		}
		switch evt.Type {
		case protocol.RecordQ4HAsked:
			open[evt.QuestionID] = evt.Text
		case protocol.RecordQ4HAnswered:
			delete(open, evt.QuestionID)
		}
	}
	d.restoreCounters(last, genseq)
	for qid, text := range open {
		d.AddOpenQuestion(qid, text)
	}
	if len(open) > 0 {
		d.restoreState(StateBlocked, BlockNeedsHumanInput)
	}
	return summary, nil
}
