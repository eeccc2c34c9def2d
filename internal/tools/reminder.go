package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/minds/internal/dialog"
)

const reminderOwner = "reminder"

// ReminderTool lets the model pin short notes onto its own dialog.
// Reminders persist with the dialog and are folded into every driving
// step's context.
type ReminderTool struct{}

func NewReminderTool() *ReminderTool {
	t := &ReminderTool{}
	dialog.RegisterReminderOwner(t)
	return t
}

func (t *ReminderTool) Name() string      { return "reminder" }
func (t *ReminderTool) OwnerName() string { return reminderOwner }

func (t *ReminderTool) Description() string {
	return "Manage persistent reminders on the current dialog. " +
		"Reminders are shown back to you at the start of every turn."
}

func (t *ReminderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "remove", "list"},
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Reminder text (for add) or exact text to remove.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ReminderTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Dialog == nil {
		return nil, fmt.Errorf("reminder: no dialog in invocation")
	}
	action, _ := inv.Args["action"].(string)
	content, _ := inv.Args["content"].(string)

	switch action {
	case "add":
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("reminder: add requires non-empty content")
		}
		reminders := inv.Dialog.Reminders()
		reminders = append(reminders, dialog.Reminder{
			Content:   content,
			OwnerName: reminderOwner,
			Owner:     t,
		})
		if err := inv.Dialog.SetReminders(reminders); err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("reminder added (%d total)", len(reminders))), nil

	case "remove":
		reminders := inv.Dialog.Reminders()
		kept := reminders[:0]
		removed := 0
		for _, r := range reminders {
			if r.OwnerName == reminderOwner && r.Content == content {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if removed == 0 {
			return NewResult("no matching reminder"), nil
		}
		if err := inv.Dialog.SetReminders(kept); err != nil {
			return nil, err
		}
		return NewResult(fmt.Sprintf("removed %d reminder(s)", removed)), nil

	case "list":
		reminders := inv.Dialog.Reminders()
		if len(reminders) == 0 {
			return NewResult("no reminders"), nil
		}
		var b strings.Builder
		for i, r := range reminders {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Content)
		}
		return NewResult(b.String()), nil

	default:
		return nil, fmt.Errorf("reminder: unknown action %q", action)
	}
}
