// Package driver implements the dialog driving kernel: it opens a
// provider stream, pipes text deltas through the tellask parser onto
// the event bus, classifies and executes calls, and decides after each
// stream close whether to block, idle, or auto-continue on the
// diligence budget.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/providers"
	"github.com/nextlevelbuilder/minds/internal/tools"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// Team resolves teammate agent ids for call classification and system
// prompt assembly. Implemented by config.Team.
type Team interface {
	HasMember(agentID string) bool
	MemberPrompt(agentID string) string
}

// Config wires a Driver.
type Config struct {
	Provider providers.Provider
	Tools    *tools.Registry
	Team     Team
	// SystemPrompt is the base prompt shared by every member.
	SystemPrompt string
	// Model overrides the provider default when non-empty.
	Model string
}

// Driver executes driving steps on dialogs. One Driver serves the
// whole process; per-dialog exclusivity comes from the proceeding
// state, not from the Driver itself.
type Driver struct {
	provider providers.Provider
	tools    *tools.Registry
	team     Team
	system   string
	model    string
}

func New(cfg Config) *Driver {
	t := cfg.Tools
	if t == nil {
		t = tools.NewRegistry()
	}
	team := cfg.Team
	if team == nil {
		team = emptyTeam{}
	}
	return &Driver{
		provider: cfg.Provider,
		tools:    t,
		team:     team,
		system:   cfg.SystemPrompt,
		model:    cfg.Model,
	}
}

type emptyTeam struct{}

func (emptyTeam) HasMember(string) bool      { return false }
func (emptyTeam) MemberPrompt(string) string { return "" }

// ContinueWithUserPrompt starts a user-initiated turn on a root
// dialog: journal the prompt, reset the diligence budget, and drive
// until the dialog blocks, idles, or fails.
func (dr *Driver) ContinueWithUserPrompt(ctx context.Context, root *dialog.RootDialog, prompt string) error {
	if err := dr.beginTurn(root, prompt); err != nil {
		return err
	}
	return dr.drive(ctx, root)
}

// ContinueWithHumanResponse answers all open Q4Hs with the given
// prompt and resumes driving. The whole open set is cleared: the
// human's message is presumed to address everything asked.
func (dr *Driver) ContinueWithHumanResponse(ctx context.Context, root *dialog.RootDialog, prompt string) error {
	for _, qid := range root.TakeOpenQuestions() {
		rec := bus.New(protocol.RecordQ4HAnswered)
		rec.QuestionID = qid
		root.Journal(rec)
		evt := bus.New(protocol.EventQ4HAnswered)
		evt.QuestionID = qid
		root.Post(evt)
	}
	if err := dr.beginTurn(root, prompt); err != nil {
		return err
	}
	return dr.drive(ctx, root)
}

// beginTurn journals the user prompt into a fresh round and moves the
// dialog to proceeding.
func (dr *Driver) beginTurn(root *dialog.RootDialog, prompt string) error {
	if st, _ := root.RunState(); st == dialog.StateDead || st == dialog.StateTerminal {
		return fmt.Errorf("%w: %s is %s", dialog.ErrDialogDead, root.ID().Key(), st)
	}
	// A round is one user turn; open a new one when the current round
	// already holds events.
	rounds, err := root.Store().Rounds(root.ID().SelfID)
	if err != nil {
		return fmt.Errorf("list rounds: %w", err)
	}
	if len(rounds) > 0 && rounds[len(rounds)-1] == root.Round() {
		root.AdvanceRound()
	}
	rec := bus.New(protocol.RecordUserPrompt)
	rec.Text = prompt
	root.Journal(rec)
	root.ResetDiligence()
	return root.Transition(dialog.StateProceeding, "")
}

// drive runs driving steps until a close decision stops the loop:
// blocked on human input or children, idle on budget exhaustion, or
// interrupted on stop/failure.
func (dr *Driver) drive(ctx context.Context, root *dialog.RootDialog) error {
	for {
		out, err := dr.step(ctx, root, &root.Dialog, 0)
		if err != nil {
			return err
		}
		if out.stopped {
			return nil
		}

		q4h := root.OpenQuestionCount() > 0
		pending := root.PendingCount() > 0
		switch {
		case q4h && pending:
			return root.Transition(dialog.StateBlocked, dialog.BlockNeedsHumanInputAndSubdialogs)
		case q4h:
			return root.Transition(dialog.StateBlocked, dialog.BlockNeedsHumanInput)
		case pending:
			return root.Transition(dialog.StateBlocked, dialog.BlockWaitingForSubdialogs)
		}

		// Unfolded child summaries always warrant another step so the
		// model sees them; otherwise continuing spends budget.
		if !root.HasPendingSummaries() {
			remaining, ok := root.ConsumeDiligence()
			if !ok {
				return root.Transition(dialog.StateIdleWaitingUser, "")
			}
			evt := bus.New(protocol.EventDiligenceBudget)
			rc := remaining
			evt.RemainingCount = &rc
			root.Post(evt)
		}
		if err := root.Transition(dialog.StateProceeding, ""); err != nil {
			return err
		}
	}
}

// driveChild runs one synchronous driving step on a subdialog with the
// parent's ask as its prompt, returning the child's summary text.
func (dr *Driver) driveChild(ctx context.Context, root *dialog.RootDialog, sd *dialog.SubDialog, ask string) (string, error) {
	rounds, err := sd.Store().Rounds(sd.ID().SelfID)
	if err != nil {
		return "", fmt.Errorf("list child rounds: %w", err)
	}
	if len(rounds) > 0 && rounds[len(rounds)-1] == sd.Round() {
		sd.AdvanceRound()
	}
	rec := bus.New(protocol.RecordUserPrompt)
	rec.Text = ask
	sd.Journal(rec)
	if err := sd.Transition(dialog.StateProceeding, ""); err != nil {
		return "", err
	}

	out, err := dr.step(ctx, root, &sd.Dialog, 1)
	if err != nil {
		return "", err
	}
	if out.stopped {
		return "", fmt.Errorf("subdialog %s stopped before completing", sd.ID().Key())
	}
	if err := sd.Transition(dialog.StateIdleWaitingUser, ""); err != nil {
		slog.Warn("child idle transition failed", "dialog", sd.ID().Key(), "error", err)
	}
	// A child cannot block its parent's turn, so any question it asked
	// the human re-homes on the root and blocks there instead.
	for qid, text := range sd.TakeOpenQuestionSet() {
		root.AddOpenQuestion(qid, text)
	}
	return out.content, nil
}
