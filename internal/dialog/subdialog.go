package dialog

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/minds/internal/journal"
)

// SubDialog is a child dialog created by a teammate tellask. The tree
// is exactly two levels deep: every subdialog's parent is the root.
type SubDialog struct {
	Dialog

	supdialog *RootDialog

	topicID        string // set iff Type-B
	originRole     string // "user" or "assistant"
	originMemberID string
	callerDialogID string
	callID         string
}

// SubDialogSpec carries the provenance of the creating tellask.
type SubDialogSpec struct {
	AgentID        string
	TaskDocPath    string
	TopicID        string // empty for Type-C
	OriginRole     string
	OriginMemberID string
	CallerDialogID string
	CallID         string
}

// NewSub creates a subdialog under the given root and persists its
// directory as a sibling root-like directory with a parent
// back-reference in meta.json.
func NewSub(parent *RootDialog, spec SubDialogSpec) (*SubDialog, error) {
	sd := &SubDialog{
		Dialog:         newDialog(NewSubID(parent.ID().RootID), spec.AgentID, spec.TaskDocPath, parent.Store()),
		supdialog:      parent,
		topicID:        spec.TopicID,
		originRole:     spec.OriginRole,
		originMemberID: spec.OriginMemberID,
		callerDialogID: spec.CallerDialogID,
		callID:         spec.CallID,
	}
	now := time.Now().UTC()
	err := parent.Store().SaveMeta(sd.id.SelfID, journal.Meta{
		AgentID:      spec.AgentID,
		TaskDocPath:  spec.TaskDocPath,
		RootID:       sd.id.RootID,
		ParentID:     parent.ID().SelfID,
		TopicID:      spec.TopicID,
		OriginRole:   spec.OriginRole,
		OriginMember: spec.OriginMemberID,
		CallerDialog: spec.CallerDialogID,
		CallID:       spec.CallID,
		CreatedAt:    now,
		LastModified: now,
	})
	if err != nil {
		return nil, fmt.Errorf("persist subdialog meta: %w", err)
	}
	parent.AdoptChild(sd)
	return sd, nil
}

// restoreSub rebuilds a subdialog from its persisted meta during
// revival. The caller wires it onto the parent via AdoptChild.
func restoreSub(parent *RootDialog, selfID string, m journal.Meta) (*SubDialog, error) {
	if m.RootID != parent.ID().RootID {
		return nil, fmt.Errorf("subdialog %s: rootId %s does not match parent root %s",
			selfID, m.RootID, parent.ID().RootID)
	}
	sd := &SubDialog{
		Dialog: newDialog(ID{RootID: m.RootID, SelfID: selfID},
			m.AgentID, m.TaskDocPath, parent.Store()),
		supdialog:      parent,
		topicID:        m.TopicID,
		originRole:     m.OriginRole,
		originMemberID: m.OriginMember,
		callerDialogID: m.CallerDialog,
		callID:         m.CallID,
	}
	return sd, nil
}

// Supdialog returns the parent root. The back-reference is used for
// lookup only, never for deletion cascade.
func (s *SubDialog) Supdialog() *RootDialog { return s.supdialog }

// TopicID returns the topical key for Type-B subdialogs, "" for
// Type-C ones.
func (s *SubDialog) TopicID() string { return s.topicID }

// Topical reports whether the subdialog is mutex-tracked (Type-B).
func (s *SubDialog) Topical() bool { return s.topicID != "" }

// OriginRole returns the role of the message that spawned this child.
func (s *SubDialog) OriginRole() string { return s.originRole }

// OriginMemberID returns the member who issued the creating tellask.
func (s *SubDialog) OriginMemberID() string { return s.originMemberID }

// CallerDialogID returns the dialog that issued the creating tellask.
func (s *SubDialog) CallerDialogID() string { return s.callerDialogID }

// CallID returns the tellask call id that created this subdialog.
func (s *SubDialog) CallID() string { return s.callID }
