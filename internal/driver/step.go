package driver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/internal/providers"
	"github.com/nextlevelbuilder/minds/internal/tellask"
	"github.com/nextlevelbuilder/minds/internal/tools"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// stepOutcome reports how one driving step ended.
type stepOutcome struct {
	// content is the model's assembled prose for this step.
	content string
	// stopped is set when the user interrupted the stream; the dialog
	// is already in the interrupted state.
	stopped bool
}

// step runs one provider stream to completion on d, emitting bus
// events and dispatching calls as they close. depth is 0 for the
// root's own driving and 1 inside a subdialog (nested delegation is
// refused there).
func (dr *Driver) step(ctx context.Context, root *dialog.RootDialog, d *dialog.Dialog, depth int) (stepOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := dr.assembleContext(root, d)
	if err != nil {
		if errors.Is(err, journal.ErrCorrupt) {
			d.MarkDead(err)
		}
		return stepOutcome{}, err
	}

	st := &streamState{
		dr:     dr,
		ctx:    ctx,
		cancel: cancel,
		root:   root,
		d:      d,
		depth:  depth,
	}
	st.parser = tellask.NewParser(st.onParse, tellask.WithCallID(func() string {
		return "call-" + uuid.NewString()[:8]
	}))

	d.Post(bus.New(protocol.EventGeneratingStart))
	resp, streamErr := dr.provider.ChatStream(ctx, req, st.onDelta)
	st.closeThinking()
	st.parser.Finish()
	st.closeSaying()

	out := stepOutcome{}
	if resp != nil {
		out.content = resp.Content
	}
	if out.content != "" {
		rec := bus.New(protocol.RecordAgentWords)
		rec.Text = out.content
		d.Journal(rec)
	}

	if st.stopped {
		evt := bus.New(protocol.EventStreamError)
		evt.Reason = protocol.StreamErrUserStop
		d.Post(evt)
		d.Post(bus.New(protocol.EventGeneratingFinish))
		if err := d.Transition(dialog.StateInterrupted, ""); err != nil {
			return out, err
		}
		out.stopped = true
		return out, nil
	}
	if streamErr != nil {
		// Provider failure: surface, interrupt, never consume budget.
		evt := bus.New(protocol.EventStreamError)
		evt.Reason = protocol.StreamErrProvider
		evt.Error = streamErr.Error()
		d.Post(evt)
		d.Post(bus.New(protocol.EventGeneratingFinish))
		if st2, _ := d.RunState(); st2 == dialog.StateProceeding {
			d.Transition(dialog.StateInterrupted, "")
		}
		return out, streamErr
	}

	d.Post(bus.New(protocol.EventGeneratingFinish))
	return out, nil
}

// streamState is the per-step mutable state threaded through the
// provider callback and the parser.
type streamState struct {
	dr     *Driver
	ctx    context.Context
	cancel context.CancelFunc
	root   *dialog.RootDialog
	d      *dialog.Dialog
	depth  int

	parser *tellask.Parser

	thinkingOpen bool
	sayingOpen   bool
	stopped      bool

	call *callAccumulator
}

// callAccumulator collects one tellask call across parser events.
type callAccumulator struct {
	callID     string
	validation tellask.Validation
	head       strings.Builder
	body       strings.Builder
}

// onDelta handles one provider delta. Chunk boundaries are the
// driver's suspension points: a pending user stop is honored here.
func (s *streamState) onDelta(delta providers.Delta) {
	if s.stopped {
		return
	}
	if s.d.StopRequested() {
		s.stopped = true
		s.cancel()
		return
	}
	switch {
	case delta.Thinking != "":
		s.openThinking()
		evt := bus.New(protocol.EventThinkingChunk)
		evt.Text = delta.Thinking
		s.d.Post(evt)
	case delta.Text != "":
		s.closeThinking()
		s.openSaying()
		evt := bus.New(protocol.EventSayingChunk)
		evt.Text = delta.Text
		s.d.Post(evt)
		s.parser.Feed(delta.Text)
	case delta.FuncCall != nil:
		s.closeThinking()
		s.execFunc(*delta.FuncCall)
	}
}

func (s *streamState) openThinking() {
	if !s.thinkingOpen {
		s.thinkingOpen = true
		s.d.Post(bus.New(protocol.EventThinkingStart))
	}
}

func (s *streamState) closeThinking() {
	if s.thinkingOpen {
		s.thinkingOpen = false
		s.d.Post(bus.New(protocol.EventThinkingFinish))
	}
}

func (s *streamState) openSaying() {
	if !s.sayingOpen {
		s.sayingOpen = true
		s.d.Post(bus.New(protocol.EventSayingStart))
	}
}

func (s *streamState) closeSaying() {
	if s.sayingOpen {
		s.sayingOpen = false
		s.d.Post(bus.New(protocol.EventSayingFinish))
	}
}

// execFunc runs a completed function call synchronously and feeds the
// result back onto the bus and the journal.
func (s *streamState) execFunc(fc providers.FuncCall) {
	args, _ := json.Marshal(fc.Arguments)

	evt := bus.New(protocol.EventFuncCallRequested)
	evt.CallID = fc.ID
	evt.FuncName = fc.Name
	evt.FuncArgs = args
	s.d.Post(evt)
	rec := bus.New(protocol.RecordFuncCall)
	rec.CallID = fc.ID
	rec.FuncName = fc.Name
	rec.FuncArgs = args
	s.d.Journal(rec)

	res := s.dr.tools.Execute(s.ctx, fc.Name, tools.Invocation{
		Dialog: s.d,
		Caller: s.d.AgentID(),
		Args:   fc.Arguments,
	})
	s.funcResult(fc.ID, fc.Name, res.ForLLM, res.IsError)
}

// funcResult posts and journals one func_result pair.
func (s *streamState) funcResult(callID, funcName, result string, isError bool) {
	evt := bus.New(protocol.EventFuncResult)
	evt.CallID = callID
	evt.FuncName = funcName
	evt.Result = result
	evt.IsError = isError
	s.d.Post(evt)
	rec := bus.New(protocol.RecordFuncResult)
	rec.CallID = callID
	rec.FuncName = funcName
	rec.Result = result
	rec.IsError = isError
	s.d.Journal(rec)
}

// onParse re-emits tellask parser events as bus events and dispatches
// each call when it closes.
func (s *streamState) onParse(evt tellask.Event) {
	switch evt.Kind {
	case tellask.MarkdownStart:
		s.d.Post(bus.New(protocol.EventMarkdownStart))
	case tellask.MarkdownChunk:
		e := bus.New(protocol.EventMarkdownChunk)
		e.Text = evt.Text
		s.d.Post(e)
	case tellask.MarkdownFinish:
		s.d.Post(bus.New(protocol.EventMarkdownFinish))

	case tellask.CallStart:
		s.call = &callAccumulator{callID: evt.CallID, validation: *evt.Validation}
		e := bus.New(protocol.EventCallingStart)
		e.CallID = evt.CallID
		e.Validation = &bus.CallValidation{
			Valid:        evt.Validation.Valid,
			Reason:       evt.Validation.Reason,
			FirstMention: evt.Validation.FirstMention,
		}
		s.d.Post(e)
	case tellask.CallHeadChunk:
		if s.call != nil {
			s.call.head.WriteString(evt.Text)
		}
		e := bus.New(protocol.EventCallingHeadlineChunk)
		e.Text = evt.Text
		s.d.Post(e)
	case tellask.CallHeadFinish:
		s.d.Post(bus.New(protocol.EventCallingHeadlineFinish))
	case tellask.CallBodyStart:
		s.d.Post(bus.New(protocol.EventCallingBodyStart))
	case tellask.CallBodyChunk:
		if s.call != nil {
			s.call.body.WriteString(evt.Text)
		}
		e := bus.New(protocol.EventCallingBodyChunk)
		e.Text = evt.Text
		s.d.Post(e)
	case tellask.CallBodyFinish:
		s.d.Post(bus.New(protocol.EventCallingBodyFinish))
	case tellask.CallFinish:
		e := bus.New(protocol.EventCallingFinish)
		e.CallID = evt.CallID
		s.d.Post(e)
		if c := s.call; c != nil {
			s.call = nil
			s.dispatch(c)
		}
	}
}
