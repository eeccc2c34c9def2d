package driver

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/tellask"
	"github.com/nextlevelbuilder/minds/internal/tools"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// dispatch classifies a closed tellask call and acts on it. The
// precedence mirrors the grammar: @human, @self, registered tool
// callsign, teammate with topic (Type-B), teammate without (Type-C),
// then unknown.
func (s *streamState) dispatch(c *callAccumulator) {
	if !c.validation.Valid {
		s.funcResult(c.callID, "",
			"malformed tellask call: "+c.validation.Reason, true)
		return
	}

	head := c.head.String()
	body := c.body.String()
	mention, topic := tellask.HeadFields(head)
	ask := askText(head, body)

	switch {
	case mention == "human":
		s.askHuman(c.callID, ask)

	case mention == "self":
		s.askSelf(c.callID, ask)

	case s.dr.tools.Has(mention):
		res := s.dr.tools.Execute(s.ctx, mention, tools.Invocation{
			Dialog: s.d,
			Caller: s.d.AgentID(),
			Args:   map[string]any{"head": head, "body": body},
		})
		s.funcResult(c.callID, mention, res.ForLLM, res.IsError)

	case s.dr.team.HasMember(mention):
		if s.depth > 0 {
			s.funcResult(c.callID, mention,
				protocol.ErrToolExecution+"\nsubdialogs cannot delegate to teammates", true)
			return
		}
		if topic != "" {
			s.callTeammateTopical(c.callID, mention, topic, head, ask)
		} else {
			s.callTeammateTransient(c.callID, mention, head, ask)
		}

	default:
		res := tools.UnknownCallResult(mention)
		s.funcResult(c.callID, mention, res.ForLLM, true)
	}
}

// askText joins head and body into the text handed to the callee,
// stripping the leading mention line decoration.
func askText(head, body string) string {
	text := strings.TrimSpace(head)
	if b := strings.TrimRight(body, "\n"); b != "" {
		text += "\n" + b
	}
	return text
}

// askHuman records a question-for-human. The dialog blocks on stream
// close; the answer arrives through ContinueWithHumanResponse.
func (s *streamState) askHuman(callID, question string) {
	qid := uuid.NewString()
	rec := bus.New(protocol.RecordQ4HAsked)
	rec.QuestionID = qid
	rec.CallID = callID
	rec.Text = question
	s.d.Journal(rec)

	evt := bus.New(protocol.EventNewQ4HAsked)
	evt.QuestionID = qid
	evt.CallID = callID
	evt.Text = question
	s.d.Post(evt)

	s.d.AddOpenQuestion(qid, question)
}

// askSelf runs a feedback-before-resume self-question: a transient
// subdialog driven inline by the same responder, its answer journaled
// as a teammate response so the next step sees it.
func (s *streamState) askSelf(callID, ask string) {
	if s.depth > 0 {
		s.funcResult(callID, "self",
			protocol.ErrToolExecution+"\nnested self-questions are not supported", true)
		return
	}
	sd, err := dialog.NewSub(s.root, dialog.SubDialogSpec{
		AgentID:        s.d.AgentID(),
		OriginRole:     "assistant",
		OriginMemberID: s.d.AgentID(),
		CallerDialogID: s.d.ID().Key(),
		CallID:         callID,
	})
	if err != nil {
		s.funcResult(callID, "self", protocol.ErrToolExecution+"\n"+err.Error(), true)
		return
	}
	s.announceSubdialog(sd, callID)

	summary, err := s.dr.driveChild(s.ctx, s.root, sd, ask)
	s.finishTransient(sd)
	if err != nil {
		s.funcResult(callID, "self", protocol.ErrToolExecution+"\n"+err.Error(), true)
		return
	}
	rec := bus.New(protocol.RecordTeammateResponse)
	rec.CallID = callID
	rec.SubdialogID = sd.ID().SelfID
	rec.Text = summary
	s.d.Journal(rec)
}

// callTeammateTopical handles a Type-B call: mutex-guarded, resumable
// by (agentId, topicId).
func (s *streamState) callTeammateTopical(callID, agentID, topicID, head, ask string) {
	root := s.root
	if root.Mutex.IsLocked(agentID, topicID) {
		res := tools.MutexBusyResult(agentID, topicID)
		s.funcResult(callID, agentID, res.ForLLM, true)
		return
	}

	sd, resumed := root.RegisteredSubdialog(agentID, topicID)
	if !resumed {
		var err error
		sd, err = dialog.NewSub(root, dialog.SubDialogSpec{
			AgentID:        agentID,
			TopicID:        topicID,
			OriginRole:     "assistant",
			OriginMemberID: s.d.AgentID(),
			CallerDialogID: s.d.ID().Key(),
			CallID:         callID,
		})
		if err != nil {
			s.funcResult(callID, agentID, protocol.ErrToolExecution+"\n"+err.Error(), true)
			return
		}
	}
	if _, err := root.Mutex.Lock(agentID, topicID, sd.ID().SelfID); err != nil {
		// Raced with another driver between IsLocked and Lock.
		res := tools.MutexBusyResult(agentID, topicID)
		s.funcResult(callID, agentID, res.ForLLM, true)
		return
	}
	root.SaveMutex()
	if !resumed {
		s.announceSubdialog(sd, callID)
	}

	root.AddPending(dialog.PendingSubdialog{
		SubdialogID:   sd.ID(),
		CreatedAt:     time.Now(),
		HeadLine:      strings.TrimRight(head, "\n"),
		TargetAgentID: agentID,
		CallType:      dialog.CallTypeB,
	})

	summary, err := s.dr.driveChild(s.ctx, root, sd, ask)

	root.RemovePending(sd.ID())
	root.Mutex.Unlock(agentID, topicID)
	root.SaveMutex()

	if err != nil {
		s.funcResult(callID, agentID, protocol.ErrToolExecution+"\n"+err.Error(), true)
		return
	}
	s.handBack(sd, summary)
}

// callTeammateTransient handles a Type-C call: a one-off child with no
// mutex entry, released after it hands back.
func (s *streamState) callTeammateTransient(callID, agentID, head, ask string) {
	root := s.root
	sd, err := dialog.NewSub(root, dialog.SubDialogSpec{
		AgentID:        agentID,
		OriginRole:     "assistant",
		OriginMemberID: s.d.AgentID(),
		CallerDialogID: s.d.ID().Key(),
		CallID:         callID,
	})
	if err != nil {
		s.funcResult(callID, agentID, protocol.ErrToolExecution+"\n"+err.Error(), true)
		return
	}
	s.announceSubdialog(sd, callID)

	root.AddPending(dialog.PendingSubdialog{
		SubdialogID:   sd.ID(),
		CreatedAt:     time.Now(),
		HeadLine:      strings.TrimRight(head, "\n"),
		TargetAgentID: agentID,
		CallType:      dialog.CallTypeC,
	})

	summary, err := s.dr.driveChild(s.ctx, root, sd, ask)

	root.RemovePending(sd.ID())
	s.finishTransient(sd)

	if err != nil {
		s.funcResult(callID, agentID, protocol.ErrToolExecution+"\n"+err.Error(), true)
		return
	}
	s.handBack(sd, summary)
}

// announceSubdialog journals and posts the child's creation.
func (s *streamState) announceSubdialog(sd *dialog.SubDialog, callID string) {
	rec := bus.New(protocol.RecordSubdialogCreated)
	rec.SubdialogID = sd.ID().SelfID
	rec.AgentID = sd.AgentID()
	rec.TopicID = sd.TopicID()
	rec.CallID = callID
	s.d.Journal(rec)

	evt := bus.New(protocol.EventSubdialogCreated)
	evt.SubdialogID = sd.ID().SelfID
	evt.AgentID = sd.AgentID()
	evt.TopicID = sd.TopicID()
	evt.CallID = callID
	s.d.Post(evt)
}

// handBack records a completed child's summary on the parent's
// pending list and signals subdialog_done on the child's channel.
func (s *streamState) handBack(sd *dialog.SubDialog, summary string) {
	if err := s.root.AddPendingSummary(sd.ID(), summary); err != nil {
		slog.Warn("persist pending summary failed",
			"dialog", s.root.ID().Key(), "subdialog", sd.ID().SelfID, "error", err)
	}
	evt := bus.New(protocol.EventSubdialogDone)
	evt.SubdialogID = sd.ID().SelfID
	evt.Summary = summary
	bus.Post(sd, evt)
}

// finishTransient retires a Type-C or self child after hand-back.
func (s *streamState) finishTransient(sd *dialog.SubDialog) {
	if err := sd.Transition(dialog.StateTerminal, ""); err != nil {
		slog.Warn("transient child terminal transition failed",
			"dialog", sd.ID().Key(), "error", err)
	}
	s.root.ReleaseChild(sd)
	sd.Close()
}
