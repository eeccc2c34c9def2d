package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/providers"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// maxContextMessages bounds the assembled history. Trimming drops the
// oldest complete rounds first and never splits within a round.
const maxContextMessages = 200

// assembleContext builds the provider request for one driving step:
// system prompt (base + member + task doc + reminders), the round
// history, and any pending child summaries folded in as synthetic user
// messages.
func (dr *Driver) assembleContext(root *dialog.RootDialog, d *dialog.Dialog) (providers.ChatRequest, error) {
	req := providers.ChatRequest{
		Model: dr.model,
		Tools: dr.tools.Definitions(),
	}

	var sys strings.Builder
	sys.WriteString(dr.system)
	if p := dr.team.MemberPrompt(d.AgentID()); p != "" {
		sys.WriteString("\n\n")
		sys.WriteString(p)
	}
	if path := d.TaskDocPath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			sys.WriteString("\n\n# Task\n")
			sys.Write(data)
		}
	}
	if rems := d.Reminders(); len(rems) > 0 {
		sys.WriteString("\n\n# Reminders\n")
		for _, r := range rems {
			sys.WriteString("- ")
			sys.WriteString(r.Content)
			sys.WriteString("\n")
		}
	}
	req.System = strings.TrimSpace(sys.String())

	history, err := dr.roundHistory(d)
	if err != nil {
		return req, err
	}
	req.Messages = history

	// Child summaries are the freshest input; only the root folds them.
	if d == &root.Dialog {
		summaries, err := root.TakePendingSummaries()
		if err != nil {
			return req, fmt.Errorf("take pending summaries: %w", err)
		}
		for _, s := range summaries {
			req.Messages = append(req.Messages, providers.Message{
				Role:    "user",
				Content: fmt.Sprintf("Teammate subdialog %s handed back:\n%s", s.SubdialogID, s.Summary),
			})
		}
	}
	return req, nil
}

// roundHistory converts the dialog's journaled rounds into provider
// messages, newest rounds kept when the budget forces trimming.
func (dr *Driver) roundHistory(d *dialog.Dialog) ([]providers.Message, error) {
	store := d.Store()
	selfID := d.ID().SelfID
	rounds, err := store.Rounds(selfID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}

	perRound := make([][]providers.Message, 0, len(rounds))
	total := 0
	for _, r := range rounds {
		events, err := store.ReadRoundEvents(selfID, r)
		if err != nil {
			return nil, err
		}
		msgs := roundMessages(events)
		perRound = append(perRound, msgs)
		total += len(msgs)
	}
	for len(perRound) > 1 && total > maxContextMessages {
		total -= len(perRound[0])
		perRound = perRound[1:]
	}

	var out []providers.Message
	for _, msgs := range perRound {
		out = append(out, msgs...)
	}
	return out, nil
}

// roundMessages maps one round's journal records to conversation
// messages.
func roundMessages(events []bus.Event) []providers.Message {
	var msgs []providers.Message
	for _, evt := range events {
		switch evt.Type {
		case protocol.RecordUserPrompt:
			msgs = append(msgs, providers.Message{Role: "user", Content: evt.Text})
		case protocol.RecordAgentWords:
			msgs = append(msgs, providers.Message{Role: "assistant", Content: evt.Text})
		case protocol.RecordTeammateResponse:
			msgs = append(msgs, providers.Message{
				Role:    "user",
				Content: "Teammate response:\n" + evt.Text,
			})
		case protocol.RecordQ4HAsked:
			msgs = append(msgs, providers.Message{
				Role:    "assistant",
				Content: "Question for human:\n" + evt.Text,
			})
		case protocol.RecordFuncCall:
			var args map[string]any
			_ = json.Unmarshal(evt.FuncArgs, &args)
			msgs = append(msgs, providers.Message{
				Role: "assistant",
				FuncCalls: []providers.FuncCall{{
					ID:        evt.CallID,
					Name:      evt.FuncName,
					Arguments: args,
				}},
			})
		case protocol.RecordFuncResult:
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    evt.Result,
				ToolCallID: evt.CallID,
			})
		}
	}
	return msgs
}
