package driver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/internal/providers"
	"github.com/nextlevelbuilder/minds/internal/tools"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

type testTeam map[string]string

func (t testTeam) HasMember(id string) bool      { return t[id] != "" }
func (t testTeam) MemberPrompt(id string) string { return t[id] }

func say(text string) []providers.Delta {
	return []providers.Delta{{Text: text}}
}

func newTestRoot(t *testing.T, diligenceMax int) *dialog.RootDialog {
	t.Helper()
	store := journal.NewStore(t.TempDir())
	root, err := dialog.NewRoot("pangu", "", diligenceMax, store)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

// drain pulls all buffered events until the queue stays empty.
func drain(sub *bus.SubChan) []bus.Event {
	var out []bus.Event
	for {
		evt, err := sub.Pull(50 * time.Millisecond)
		if err != nil {
			return out
		}
		out = append(out, evt)
	}
}

func eventTypes(events []bus.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestDrivePlainTurn(t *testing.T) {
	root := newTestRoot(t, 0)
	sub := root.Subscribe()
	provider := providers.NewScriptProvider(say("hello there\n"))
	dr := New(Config{Provider: provider})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "hi"); err != nil {
		t.Fatal(err)
	}
	if st, _ := root.RunState(); st != dialog.StateIdleWaitingUser {
		t.Errorf("state = %s, want idle_waiting_user", st)
	}

	events := drain(sub)
	var sawStart, sawFinish, sawChunk bool
	finishIdx, lastContentIdx := -1, -1
	for i, e := range events {
		switch e.Type {
		case protocol.EventGeneratingStart:
			if sawChunk {
				t.Error("generating_start after content events")
			}
			sawStart = true
		case protocol.EventGeneratingFinish:
			sawFinish = true
			finishIdx = i
		case protocol.EventSayingChunk:
			sawChunk = true
			lastContentIdx = i
			if e.Text != "hello there\n" {
				t.Errorf("saying chunk = %q", e.Text)
			}
		case protocol.EventMarkdownChunk:
			lastContentIdx = i
			if e.Text != "hello there\n" {
				t.Errorf("markdown chunk = %q", e.Text)
			}
		}
	}
	if !sawStart || !sawFinish || !sawChunk {
		t.Fatalf("missing stream events in %v", eventTypes(events))
	}
	if finishIdx < lastContentIdx {
		t.Error("generating_finish not after all content events")
	}

	// Start/finish pairing for every family seen.
	for _, pair := range [][2]string{
		{protocol.EventSayingStart, protocol.EventSayingFinish},
		{protocol.EventMarkdownStart, protocol.EventMarkdownFinish},
	} {
		starts, finishes := 0, 0
		for _, e := range events {
			switch e.Type {
			case pair[0]:
				starts++
			case pair[1]:
				finishes++
			}
		}
		if starts != finishes {
			t.Errorf("%s/%s unbalanced: %d vs %d", pair[0], pair[1], starts, finishes)
		}
	}

	// The prose is journaled.
	recs, err := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	if err != nil {
		t.Fatal(err)
	}
	var words int
	for _, r := range recs {
		if r.Type == protocol.RecordAgentWords {
			words++
			if r.Text != "hello there\n" {
				t.Errorf("agent words = %q", r.Text)
			}
		}
	}
	if words != 1 {
		t.Errorf("agent_words_record count = %d", words)
	}
}

func TestDiligenceBudgetEvents(t *testing.T) {
	root := newTestRoot(t, 2)
	sub := root.Subscribe()
	provider := providers.NewScriptProvider(
		say("working\n"), say("still working\n"), say("done-ish\n"))
	dr := New(Config{Provider: provider})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	if st, _ := root.RunState(); st != dialog.StateIdleWaitingUser {
		t.Errorf("state = %s, want idle_waiting_user", st)
	}
	if n := len(provider.Calls()); n != 3 {
		t.Errorf("provider called %d times, want 3", n)
	}

	var counts []int
	for _, e := range drain(sub) {
		if e.Type == protocol.EventDiligenceBudget {
			if e.RemainingCount == nil {
				t.Fatal("diligence_budget_evt without remainingCount")
			}
			counts = append(counts, *e.RemainingCount)
		}
	}
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("budget events = %v, want [1 0]", counts)
	}
}

func TestQ4HBlocksAndResumes(t *testing.T) {
	root := newTestRoot(t, 2)
	sub := root.Subscribe()
	provider := providers.NewScriptProvider(
		say("!?@human which database?\n"),
		say("postgres it is\n"))
	dr := New(Config{Provider: provider})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "set up storage"); err != nil {
		t.Fatal(err)
	}
	st, reason := root.RunState()
	if st != dialog.StateBlocked || reason != dialog.BlockNeedsHumanInput {
		t.Fatalf("state = %s/%s, want blocked/needs_human_input", st, reason)
	}
	if root.OpenQuestionCount() != 1 {
		t.Fatalf("open questions = %d", root.OpenQuestionCount())
	}
	// A blocked turn never consumes budget.
	if root.DiligenceRemaining() != 2 {
		t.Errorf("budget consumed while blocking: %d", root.DiligenceRemaining())
	}

	var asked bool
	for _, e := range drain(sub) {
		if e.Type == protocol.EventNewQ4HAsked {
			asked = true
			if !strings.Contains(e.Text, "which database?") {
				t.Errorf("question text = %q", e.Text)
			}
			if e.QuestionID == "" {
				t.Error("question without id")
			}
		}
	}
	if !asked {
		t.Fatal("new_q4h_asked never fired")
	}

	if err := dr.ContinueWithHumanResponse(context.Background(), root, "use postgres"); err != nil {
		t.Fatal(err)
	}
	if root.OpenQuestionCount() != 0 {
		t.Error("open questions survived the answer")
	}

	var answered bool
	for _, e := range drain(sub) {
		if e.Type == protocol.EventQ4HAnswered {
			answered = true
		}
	}
	if !answered {
		t.Error("q4h_answered never fired")
	}

	// The answer is journaled in the new round.
	recs, err := root.Store().ReadRoundEvents(root.ID().SelfID, 2)
	if err != nil {
		t.Fatal(err)
	}
	var gotPrompt bool
	for _, r := range recs {
		if r.Type == protocol.RecordUserPrompt && r.Text == "use postgres" {
			gotPrompt = true
		}
	}
	if !gotPrompt {
		t.Error("user prompt missing from round 2")
	}
}

func TestTypeBTeammateCall(t *testing.T) {
	root := newTestRoot(t, 0)
	provider := providers.NewScriptProvider(
		say("!?@cmdr !review check this patch\n"), // root turn
		say("patch looks good\n"),                 // child turn
		say("merging\n"))                          // root folds summary
	dr := New(Config{
		Provider: provider,
		Team:     testTeam{"cmdr": "You are cmdr."},
	})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "review the patch"); err != nil {
		t.Fatal(err)
	}
	if st, _ := root.RunState(); st != dialog.StateIdleWaitingUser {
		t.Errorf("state = %s, want idle_waiting_user", st)
	}

	sd, ok := root.RegisteredSubdialog("cmdr", "review")
	if !ok {
		t.Fatal("topical child not registered")
	}
	if sd.ID().RootID != root.ID().RootID {
		t.Error("child rootId differs from parent")
	}

	entry, ok := root.Mutex.Lookup("cmdr", "review")
	if !ok {
		t.Fatal("mutex entry missing")
	}
	if entry.Locked {
		t.Error("mutex still locked after hand-back")
	}
	if entry.SubdialogID != sd.ID().SelfID {
		t.Error("mutex entry points at wrong subdialog")
	}

	// The follow-up root step saw the folded summary.
	calls := provider.Calls()
	if len(calls) != 3 {
		t.Fatalf("provider called %d times, want 3", len(calls))
	}
	var folded bool
	for _, m := range calls[2].Messages {
		if m.Role == "user" && strings.Contains(m.Content, "patch looks good") {
			folded = true
		}
	}
	if !folded {
		t.Error("child summary not folded into next context")
	}

	// The child's system prompt carried its member prompt.
	if !strings.Contains(calls[1].System, "You are cmdr.") {
		t.Errorf("child system prompt = %q", calls[1].System)
	}

	// Resume: the same topic reuses the same subdialog.
	provider.Append(
		say("!?@cmdr !review one more pass\n"),
		say("still good\n"),
		say("ok\n"))
	if err := dr.ContinueWithUserPrompt(context.Background(), root, "again"); err != nil {
		t.Fatal(err)
	}
	entry2, _ := root.Mutex.Lookup("cmdr", "review")
	if entry2.SubdialogID != sd.ID().SelfID {
		t.Errorf("resume created a new subdialog: %s != %s", entry2.SubdialogID, sd.ID().SelfID)
	}
}

func TestMutexBusyReturnsError(t *testing.T) {
	root := newTestRoot(t, 0)
	// Simulate another driver holding the topic.
	if _, err := root.Mutex.Lock("cmdr", "review", "elsewhere"); err != nil {
		t.Fatal(err)
	}
	provider := providers.NewScriptProvider(
		say("!?@cmdr !review check\n"),
		say("pivoting\n"))
	dr := New(Config{Provider: provider, Team: testTeam{"cmdr": "x"}})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}

	recs, err := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	if err != nil {
		t.Fatal(err)
	}
	var busy bool
	for _, r := range recs {
		if r.Type == protocol.RecordFuncResult && strings.HasPrefix(r.Result, protocol.ErrMutexBusy) {
			busy = true
			if !r.IsError {
				t.Error("mutex busy result not marked as error")
			}
		}
	}
	if !busy {
		t.Error("ERR_MUTEX_BUSY never returned to the model")
	}
}

func TestUnknownCall(t *testing.T) {
	root := newTestRoot(t, 0)
	provider := providers.NewScriptProvider(say("!?@nobody do something\n"))
	dr := New(Config{Provider: provider})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	recs, _ := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	var unknown bool
	for _, r := range recs {
		if r.Type == protocol.RecordFuncResult && strings.HasPrefix(r.Result, protocol.ErrUnknownCall) {
			unknown = true
		}
	}
	if !unknown {
		t.Error("ERR_UNKNOWN_CALL never returned")
	}
}

func TestMalformedCallFeedsValidationBack(t *testing.T) {
	root := newTestRoot(t, 0)
	provider := providers.NewScriptProvider(say("!?hello\n"))
	dr := New(Config{Provider: provider})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	recs, _ := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	var malformed bool
	for _, r := range recs {
		if r.Type == protocol.RecordFuncResult && strings.Contains(r.Result, "missing_mention_prefix") {
			malformed = true
		}
	}
	if !malformed {
		t.Error("validation string never returned to the model")
	}
}

type echoTool struct{}

func (echoTool) Name() string                  { return "echo" }
func (echoTool) Description() string           { return "echoes arguments back" }
func (echoTool) Parameters() map[string]any    { return map[string]any{"type": "object"} }
func (echoTool) Execute(_ context.Context, inv tools.Invocation) (*tools.Result, error) {
	s, _ := inv.Args["text"].(string)
	if s == "" {
		s, _ = inv.Args["body"].(string)
	}
	return tools.NewResult("echo: " + s), nil
}

func TestFunctionCallExecution(t *testing.T) {
	root := newTestRoot(t, 0)
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	provider := providers.NewScriptProvider(
		[]providers.Delta{{FuncCall: &providers.FuncCall{
			ID:        "fc-1",
			Name:      "echo",
			Arguments: map[string]any{"text": "ping"},
		}}},
		say("got it\n"))
	dr := New(Config{Provider: provider, Tools: reg})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	recs, _ := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	var call, result bool
	for _, r := range recs {
		switch r.Type {
		case protocol.RecordFuncCall:
			call = r.FuncName == "echo" && r.CallID == "fc-1"
		case protocol.RecordFuncResult:
			result = r.Result == "echo: ping" && r.CallID == "fc-1"
		}
	}
	if !call || !result {
		t.Errorf("func call/result not journaled: call=%v result=%v", call, result)
	}
}

func TestTellaskToolCall(t *testing.T) {
	root := newTestRoot(t, 0)
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	provider := providers.NewScriptProvider(
		say("!?@echo\n!?the payload\n"),
		say("done\n"))
	dr := New(Config{Provider: provider, Tools: reg})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	recs, _ := root.Store().ReadRoundEvents(root.ID().SelfID, 1)
	var result bool
	for _, r := range recs {
		if r.Type == protocol.RecordFuncResult && strings.Contains(r.Result, "the payload") {
			result = true
		}
	}
	if !result {
		t.Error("callsign tool result not journaled")
	}
}

// stopProvider requests a user stop between deltas.
type stopProvider struct {
	root *dialog.RootDialog
}

func (p *stopProvider) Name() string         { return "stop" }
func (p *stopProvider) DefaultModel() string { return "stop" }

func (p *stopProvider) ChatStream(ctx context.Context, _ providers.ChatRequest, onDelta func(providers.Delta)) (*providers.ChatResponse, error) {
	onDelta(providers.Delta{Text: "first\n"})
	p.root.RequestStop()
	onDelta(providers.Delta{Text: "second\n"})
	if err := ctx.Err(); err != nil {
		return &providers.ChatResponse{Content: "first\n"}, err
	}
	return &providers.ChatResponse{Content: "first\nsecond\n"}, nil
}

func TestUserStopInterrupts(t *testing.T) {
	root := newTestRoot(t, 3)
	sub := root.Subscribe()
	dr := New(Config{Provider: &stopProvider{root: root}})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "go"); err != nil {
		t.Fatal(err)
	}
	if st, _ := root.RunState(); st != dialog.StateInterrupted {
		t.Fatalf("state = %s, want interrupted", st)
	}

	var userStop bool
	events := drain(sub)
	for _, e := range events {
		if e.Type == protocol.EventStreamError && e.Reason == protocol.StreamErrUserStop {
			userStop = true
		}
		if e.Type == protocol.EventSayingChunk && e.Text == "second\n" {
			t.Error("chunk after stop leaked onto the bus")
		}
	}
	if !userStop {
		t.Errorf("no user_stop stream error in %v", eventTypes(events))
	}
}

type failProvider struct{}

func (failProvider) Name() string         { return "fail" }
func (failProvider) DefaultModel() string { return "fail" }
func (failProvider) ChatStream(context.Context, providers.ChatRequest, func(providers.Delta)) (*providers.ChatResponse, error) {
	return nil, errors.New("upstream 500")
}

func TestProviderErrorInterrupts(t *testing.T) {
	root := newTestRoot(t, 3)
	sub := root.Subscribe()
	dr := New(Config{Provider: failProvider{}})

	err := dr.ContinueWithUserPrompt(context.Background(), root, "go")
	if err == nil {
		t.Fatal("provider error swallowed")
	}
	if st, _ := root.RunState(); st != dialog.StateInterrupted {
		t.Errorf("state = %s, want interrupted", st)
	}
	// Budget untouched: provider failure is not a driven turn.
	if root.DiligenceRemaining() != 3 {
		t.Errorf("budget = %d, want 3", root.DiligenceRemaining())
	}
	var streamErr bool
	for _, e := range drain(sub) {
		if e.Type == protocol.EventStreamError && e.Reason == protocol.StreamErrProvider {
			streamErr = true
		}
	}
	if !streamErr {
		t.Error("no provider stream_error event")
	}
}

func TestDeadDialogRefusesPrompt(t *testing.T) {
	root := newTestRoot(t, 0)
	root.MarkDead(errors.New("boom"))
	dr := New(Config{Provider: providers.NewScriptProvider()})
	err := dr.ContinueWithUserPrompt(context.Background(), root, "hi")
	if !errors.Is(err, dialog.ErrDialogDead) {
		t.Errorf("err = %v, want ErrDialogDead", err)
	}
}

func TestChildQuestionReHomesOnRoot(t *testing.T) {
	root := newTestRoot(t, 0)
	provider := providers.NewScriptProvider(
		say("!?@helper ask the boss which env\n"),             // root delegates
		say("!?@human which environment should we target?\n"), // child asks
		say("targeting staging\n"))                            // root resumes
	dr := New(Config{
		Provider: provider,
		Team:     testTeam{"helper": "You are helper."},
	})

	if err := dr.ContinueWithUserPrompt(context.Background(), root, "deploy"); err != nil {
		t.Fatal(err)
	}
	st, reason := root.RunState()
	if st != dialog.StateBlocked || reason != dialog.BlockNeedsHumanInput {
		t.Fatalf("state = %s/%s, want blocked/needs_human_input", st, reason)
	}
	if root.OpenQuestionCount() != 1 {
		t.Errorf("root open questions = %d, want the child's question re-homed", root.OpenQuestionCount())
	}

	if err := dr.ContinueWithHumanResponse(context.Background(), root, "staging"); err != nil {
		t.Fatal(err)
	}
	if st, _ := root.RunState(); st != dialog.StateIdleWaitingUser {
		t.Errorf("state after answer = %s", st)
	}
	if root.OpenQuestionCount() != 0 {
		t.Error("question still open after the answer")
	}

	// The answer lands in the root journal, where the question now lives.
	var answered bool
	rounds, err := root.Store().Rounds(root.ID().SelfID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rounds {
		events, err := root.Store().ReadRoundEvents(root.ID().SelfID, r)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range events {
			if e.Type == protocol.RecordQ4HAnswered {
				answered = true
			}
		}
	}
	if !answered {
		t.Error("no q4h_answered record in the root journal")
	}

	if calls := provider.Calls(); len(calls) != 3 {
		t.Fatalf("provider called %d times, want 3", len(calls))
	}
}
