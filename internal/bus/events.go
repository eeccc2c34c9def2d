// Package bus carries dialog events: a per-dialog publish channel
// with multi-subscriber fan-out, plus a single process-wide
// broadcaster that observes every dialog's events.
package bus

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// DialogRef identifies the dialog an event belongs to. Filled in by
// the bus on post; callers never set it themselves.
type DialogRef struct {
	SelfID string `json:"selfId"`
	RootID string `json:"rootId"`
}

// CallValidation is the parse verdict on a tellask head line.
type CallValidation struct {
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"` // missing_mention_prefix | invalid_mention_id
	FirstMention string `json:"firstMention,omitempty"`
}

// Event is the tagged union carried on the bus and journaled to
// round-<N>.jsonl. Type discriminates; the optional fields below are
// populated per kind. Dispatch sites switch on Type and must handle
// every kind they subscribe to.
type Event struct {
	Type   string     `json:"type"`
	Dialog *DialogRef `json:"dialog,omitempty"`
	TS     int64      `json:"ts"` // unix milliseconds
	Genseq int        `json:"genseq,omitempty"`

	// Text chunks (thinking/saying/markdown/head/body) and prompts.
	Text string `json:"text,omitempty"`

	// Tellask call fields.
	CallID     string          `json:"callId,omitempty"`
	Validation *CallValidation `json:"validation,omitempty"`

	// Function tool fields.
	FuncName string          `json:"funcName,omitempty"`
	FuncArgs json.RawMessage `json:"funcArgs,omitempty"`
	Result   string          `json:"result,omitempty"`
	IsError  bool            `json:"isError,omitempty"`

	// Error / state fields.
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	RunState string `json:"runState,omitempty"`

	// diligence_budget_evt. Pointer so a remaining count of zero
	// still serializes.
	RemainingCount *int `json:"remainingCount,omitempty"`

	// Q4H fields.
	QuestionID string `json:"questionId,omitempty"`

	// Subdialog fields.
	SubdialogID string `json:"subdialogId,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
	TopicID     string `json:"topicId,omitempty"`
	Summary     string `json:"summary,omitempty"`

	// dlg_touched_evt: the type of the event that caused the touch.
	SourceType string `json:"sourceType,omitempty"`

	// Dropped subscriber deliveries (stream_overflow_evt).
	DroppedCount int `json:"droppedCount,omitempty"`
}

// New returns an event of the given type stamped with the current
// time. Callers fill kind-specific fields on the returned value.
func New(typ string) Event {
	return Event{Type: typ, TS: time.Now().UnixMilli()}
}

// Touched reports whether the event is the synthetic touch signal.
func (e Event) Touched() bool { return e.Type == protocol.EventDlgTouched }
