// Package dialog models the conversation tree: root dialogs driven by
// user prompts, subdialogs spawned by teammate calls, their run-state
// machines, and the coordination structures shared between drivers.
package dialog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// Dialog is the state shared by root dialogs and subdialogs: identity,
// round/genseq counters, run state, reminders, and the event channel.
type Dialog struct {
	mu      sync.Mutex
	changed chan struct{} // closed and replaced on every state change

	id          ID
	agentID     string
	taskDocPath string

	round  int
	genseq int

	state       RunState
	blockReason BlockReason

	reminders     []Reminder
	openQuestions map[string]string // questionId → question text

	pub   *bus.PubChan
	store *journal.Store
}

func newDialog(id ID, agentID, taskDocPath string, store *journal.Store) Dialog {
	return Dialog{
		changed:     make(chan struct{}),
		id:          id,
		agentID:     agentID,
		taskDocPath: taskDocPath,
		round:       1,
		state:       StateIdleWaitingUser,
		pub:         bus.NewPubChan(),
		store:       store,
	}
}

// ID returns the dialog's identifier pair.
func (d *Dialog) ID() ID { return d.id }

// AgentID returns the responder driving this dialog.
func (d *Dialog) AgentID() string { return d.agentID }

// TaskDocPath returns the dialog's task document path, if any.
func (d *Dialog) TaskDocPath() string { return d.taskDocPath }

// Store returns the journal store backing this dialog.
func (d *Dialog) Store() *journal.Store { return d.store }

// EventRef implements bus.Poster.
func (d *Dialog) EventRef() bus.DialogRef {
	return bus.DialogRef{SelfID: d.id.SelfID, RootID: d.id.RootID}
}

// EventChan implements bus.Poster.
func (d *Dialog) EventChan() *bus.PubChan { return d.pub }

// Subscribe attaches a new event subscriber to this dialog.
func (d *Dialog) Subscribe() *bus.SubChan { return d.pub.Subscribe() }

// Round returns the current round number (>= 1).
func (d *Dialog) Round() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.round
}

// NextGenseq returns the next per-round message sequence number.
func (d *Dialog) NextGenseq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.genseq++
	return d.genseq
}

// AdvanceRound moves to the next round and resets genseq. The
// round_advance record is journaled in the old round.
func (d *Dialog) AdvanceRound() int {
	d.mu.Lock()
	d.genseq++
	evt := bus.New(protocol.RecordRoundAdvance)
	evt.Genseq = d.genseq
	oldRound := d.round
	d.round++
	d.genseq = 0
	d.mu.Unlock()

	if err := d.store.AppendEvent(d.id.SelfID, oldRound, evt); err != nil {
		slog.Warn("journal round advance failed", "dialog", d.id.Key(), "error", err)
	}
	return d.Round()
}

// restoreCounters installs round/genseq recomputed during revival.
func (d *Dialog) restoreCounters(round, genseq int) {
	d.mu.Lock()
	d.round = round
	d.genseq = genseq
	d.mu.Unlock()
}

// RunState returns the current state and block reason.
func (d *Dialog) RunState() (RunState, BlockReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.blockReason
}

// Transition moves the run state, posting dlg_run_state_evt on
// success. Illegal moves return an error and leave state untouched.
func (d *Dialog) Transition(to RunState, reason BlockReason) error {
	d.mu.Lock()
	from := d.state
	if !CanTransition(from, to) {
		d.mu.Unlock()
		return fmt.Errorf("dialog %s: illegal run-state transition %s -> %s", d.id.Key(), from, to)
	}
	d.state = to
	d.blockReason = ""
	if to == StateBlocked {
		d.blockReason = reason
	}
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()

	if to == StateTerminal {
		if err := d.store.SetCompletion(d.id.SelfID, "complete"); err != nil {
			slog.Warn("persist completion failed", "dialog", d.id.Key(), "error", err)
		}
	}
	evt := bus.New(protocol.EventDlgRunState)
	evt.RunState = string(to)
	evt.Reason = string(reason)
	bus.Post(d, evt)
	return nil
}

// restoreState installs a run state recomputed during revival,
// bypassing transition checks.
func (d *Dialog) restoreState(st RunState, reason BlockReason) {
	d.mu.Lock()
	d.state = st
	d.blockReason = reason
	d.mu.Unlock()
}

// MarkDead forces the dialog into the dead state, emitting a stream
// error event. Used on invariant breaks and unrecoverable IO.
func (d *Dialog) MarkDead(cause error) {
	d.mu.Lock()
	if d.state == StateDead {
		d.mu.Unlock()
		return
	}
	d.state = StateDead
	d.blockReason = ""
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()

	slog.Error("dialog marked dead", "dialog", d.id.Key(), "error", cause)
	if err := d.store.SetCompletion(d.id.SelfID, "failed"); err != nil {
		slog.Warn("persist completion failed", "dialog", d.id.Key(), "error", err)
	}
	evt := bus.New(protocol.EventStreamError)
	if cause != nil {
		evt.Error = cause.Error()
	}
	bus.Post(d, evt)
	stateEvt := bus.New(protocol.EventDlgRunState)
	stateEvt.RunState = string(StateDead)
	bus.Post(d, stateEvt)
}

// RequestStop flips proceeding into proceeding_stop_requested. The
// driver observes the change at its next suspension point. Returns
// false when the dialog was not proceeding.
func (d *Dialog) RequestStop() bool {
	d.mu.Lock()
	if d.state != StateProceeding {
		d.mu.Unlock()
		return false
	}
	d.state = StateProceedingStopRequested
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()

	evt := bus.New(protocol.EventDlgRunState)
	evt.RunState = string(StateProceedingStopRequested)
	bus.Post(d, evt)
	return true
}

// StopRequested reports whether a user stop is pending.
func (d *Dialog) StopRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateProceedingStopRequested
}

// stateChanged returns a channel closed at the next state change.
func (d *Dialog) stateChanged() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// Reminders returns a copy of the dialog's reminder list.
func (d *Dialog) Reminders() []Reminder {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Reminder, len(d.reminders))
	copy(out, d.reminders)
	return out
}

// SetReminders replaces the reminder list and persists it.
func (d *Dialog) SetReminders(reminders []Reminder) error {
	d.mu.Lock()
	d.reminders = reminders
	records := make([]journal.Reminder, len(reminders))
	for i, r := range reminders {
		records[i] = journal.Reminder{Content: r.Content, OwnerName: r.OwnerName, Meta: r.Meta}
	}
	d.mu.Unlock()

	if err := d.store.SaveReminders(d.id.SelfID, records); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	evt := bus.New(protocol.RecordReminderUpdate)
	d.Journal(evt)
	return nil
}

// restoreReminders loads persisted reminders, rebinding owners from
// the process-wide registry. Unknown owners stay nil.
func (d *Dialog) restoreReminders(records []journal.Reminder) {
	reminders := make([]Reminder, len(records))
	for i, rec := range records {
		r := Reminder{Content: rec.Content, OwnerName: rec.OwnerName, Meta: rec.Meta}
		if owner, ok := LookupReminderOwner(rec.OwnerName); ok {
			r.Owner = owner
		}
		reminders[i] = r
	}
	d.mu.Lock()
	d.reminders = reminders
	d.mu.Unlock()
}

// Post stamps the event with the next genseq and publishes it.
func (d *Dialog) Post(evt bus.Event) bus.Event {
	evt.Genseq = d.NextGenseq()
	bus.Post(d, evt)
	return evt
}

// Journal stamps and appends the event to the current round log.
func (d *Dialog) Journal(evt bus.Event) bus.Event {
	if evt.Genseq == 0 {
		evt.Genseq = d.NextGenseq()
	}
	ref := d.EventRef()
	evt.Dialog = &ref
	if err := d.store.AppendEvent(d.id.SelfID, d.Round(), evt); err != nil {
		slog.Warn("journal append failed", "dialog", d.id.Key(), "type", evt.Type, "error", err)
	}
	return evt
}

// PostAndJournal publishes the event and records it in the journal
// with the same genseq.
func (d *Dialog) PostAndJournal(evt bus.Event) bus.Event {
	evt.Genseq = d.NextGenseq()
	ref := d.EventRef()
	evt.Dialog = &ref
	if err := d.store.AppendEvent(d.id.SelfID, d.Round(), evt); err != nil {
		slog.Warn("journal append failed", "dialog", d.id.Key(), "type", evt.Type, "error", err)
	}
	bus.Post(d, evt)
	return evt
}

// Close shuts the dialog's event channel.
func (d *Dialog) Close() {
	d.pub.Close()
}
