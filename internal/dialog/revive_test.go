package dialog

import (
	"testing"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

func TestReviveTree(t *testing.T) {
	store := journal.NewStore(t.TempDir())
	root, err := NewRoot("pangu", "task.md", 3, store)
	if err != nil {
		t.Fatal(err)
	}
	for _, topic := range []string{"review", "build"} {
		sd, err := NewSub(root, SubDialogSpec{AgentID: "cmdr", TopicID: topic})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := root.Mutex.Lock("cmdr", topic, sd.ID().SelfID); err != nil {
			t.Fatal(err)
		}
	}
	root.Mutex.Unlock("cmdr", "build")
	root.SaveMutex()

	prompt := bus.New(protocol.RecordUserPrompt)
	prompt.Text = "hello"
	root.Journal(prompt)
	words := bus.New(protocol.RecordAgentWords)
	words.Text = "working on it"
	root.Journal(words)

	if err := root.SetReminders([]Reminder{
		{Content: "remember this", OwnerName: "reminder"},
		{Content: "orphaned", OwnerName: "vanished-tool"},
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh process: new registry, revive from disk.
	reg := NewRegistry()
	rv, err := Revive(store, root.ID().RootID, reg, ReviveOptions{DiligenceMax: 3, ForceUnlock: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(rv.Subdialogs) != 2 {
		t.Fatalf("revived %d subdialogs, want 2", len(rv.Subdialogs))
	}
	for _, sd := range rv.Subdialogs {
		if sd.ID().RootID != sd.Supdialog().ID().RootID {
			t.Error("restored child rootId differs from parent")
		}
		if !sd.Supdialog().ID().IsRoot() {
			t.Error("restored parent is not a root")
		}
	}

	// Clean startup force-unlocks but preserves subdialog pointers.
	if locked := rv.Root.Mutex.GetLocked(); len(locked) != 0 {
		t.Errorf("revived mutex has %d locked entries, want 0", len(locked))
	}
	e, ok := rv.Root.Mutex.Lookup("cmdr", "review")
	if !ok || e.SubdialogID == "" {
		t.Errorf("review entry lost: %+v, %v", e, ok)
	}

	rem := rv.Root.Reminders()
	if len(rem) != 2 {
		t.Fatalf("revived %d reminders, want 2", len(rem))
	}
	if rem[1].Owner != nil {
		t.Error("unknown owner should stay nil")
	}

	if rv.Summary.TotalMessages != 2 {
		t.Errorf("totalMessages = %d, want 2", rv.Summary.TotalMessages)
	}
	if rv.Summary.CompletionStatus != "incomplete" {
		t.Errorf("completionStatus = %q", rv.Summary.CompletionStatus)
	}
	if _, ok := reg.Get(root.ID().RootID); !ok {
		t.Error("revived root not registered")
	}
}

func TestReviveOpenQuestionBlocks(t *testing.T) {
	store := journal.NewStore(t.TempDir())
	root, err := NewRoot("pangu", "", 3, store)
	if err != nil {
		t.Fatal(err)
	}
	asked := bus.New(protocol.RecordQ4HAsked)
	asked.QuestionID = "q1"
	asked.Text = "which database?"
	root.Journal(asked)

	reg := NewRegistry()
	rv, err := Revive(store, root.ID().RootID, reg, ReviveOptions{ForceUnlock: true})
	if err != nil {
		t.Fatal(err)
	}
	st, reason := rv.Root.RunState()
	if st != StateBlocked || reason != BlockNeedsHumanInput {
		t.Errorf("state = %s/%s, want blocked/needs_human_input", st, reason)
	}
	if rv.Root.OpenQuestionCount() != 1 {
		t.Errorf("open questions = %d, want 1", rv.Root.OpenQuestionCount())
	}
}

func TestReviveAnsweredQuestionDoesNotBlock(t *testing.T) {
	store := journal.NewStore(t.TempDir())
	root, err := NewRoot("pangu", "", 3, store)
	if err != nil {
		t.Fatal(err)
	}
	asked := bus.New(protocol.RecordQ4HAsked)
	asked.QuestionID = "q1"
	root.Journal(asked)
	answered := bus.New(protocol.RecordQ4HAnswered)
	answered.QuestionID = "q1"
	root.Journal(answered)

	rv, err := Revive(store, root.ID().RootID, NewRegistry(), ReviveOptions{ForceUnlock: true})
	if err != nil {
		t.Fatal(err)
	}
	if st, _ := rv.Root.RunState(); st != StateIdleWaitingUser {
		t.Errorf("state = %s, want idle_waiting_user", st)
	}
}

func TestReviveRejectsSubdialogAsRoot(t *testing.T) {
	store := journal.NewStore(t.TempDir())
	root, err := NewRoot("pangu", "", 3, store)
	if err != nil {
		t.Fatal(err)
	}
	sd, err := NewSub(root, SubDialogSpec{AgentID: "cmdr"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Revive(store, sd.ID().SelfID, NewRegistry(), ReviveOptions{}); err == nil {
		t.Error("reviving a subdialog as root should fail")
	}
}
