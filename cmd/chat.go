package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		agentID  string
		dialogID string
		taskDoc  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Drive a dialog from the console",
		Long:  "Starts (or resumes with --dialog) a root dialog and streams its thinking and replies to the terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(agentID, dialogID, taskDoc)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "assistant", "agent id for a fresh dialog")
	cmd.Flags().StringVar(&dialogID, "dialog", "", "resume a persisted dialog by id")
	cmd.Flags().StringVar(&taskDoc, "task", "", "task document path for a fresh dialog")
	return cmd
}

func runChat(agentID, dialogID, taskDoc string) error {
	cfg, err := loadEnvironment()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	var root *dialog.RootDialog
	if dialogID != "" {
		rv, err := dialog.Revive(rt.store, dialogID, rt.registry, dialog.ReviveOptions{
			DiligenceMax: rt.roster.DiligenceMax(agentID),
			ForceUnlock:  true,
		})
		if err != nil {
			return err
		}
		root = rv.Root
		fmt.Fprintf(os.Stderr, "Resumed %s: %d rounds, %s\n",
			root.ID(), rv.Summary.TotalRounds, rv.Summary.CompletionStatus)
	} else {
		root, err = dialog.NewRoot(agentID, taskDoc, rt.roster.DiligenceMax(agentID), rt.store)
		if err != nil {
			return err
		}
		rt.registry.Register(root)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := root.Subscribe()
	go printEvents(ctx, sub)

	fmt.Fprintf(os.Stderr, "minds chat: agent %s, dialog %s\n", root.AgentID(), root.ID())
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/stop\" to interrupt a running turn\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit":
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		case line == "/stop":
			if !root.RequestStop() {
				fmt.Fprintln(os.Stderr, "nothing to stop")
			}
			continue
		}

		st, reason := root.RunState()
		if st == dialog.StateBlocked && reason != dialog.BlockWaitingForSubdialogs {
			err = rt.driver.ContinueWithHumanResponse(ctx, root, line)
		} else {
			err = rt.driver.ContinueWithUserPrompt(ctx, root, line)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
		fmt.Fprintln(os.Stderr)
	}
}

// printEvents renders the dialog's stream on stdout until the
// subscription ends.
func printEvents(ctx context.Context, sub *bus.SubChan) {
	inThinking := false
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return
		}
		switch evt.Type {
		case protocol.EventThinkingStart:
			inThinking = true
			fmt.Print("\x1b[2m")
		case protocol.EventThinkingChunk:
			fmt.Print(evt.Text)
		case protocol.EventThinkingFinish:
			inThinking = false
			fmt.Print("\x1b[0m\n")
		case protocol.EventSayingChunk:
			fmt.Print(evt.Text)
		case protocol.EventNewQ4HAsked:
			fmt.Printf("\n[question] %s\n", evt.Text)
		case protocol.EventSubdialogCreated:
			fmt.Printf("\n[subdialog] %s (%s)\n", evt.AgentID, evt.SubdialogID)
		case protocol.EventSubdialogDone:
			fmt.Printf("[subdialog done] %s\n", evt.SubdialogID)
		case protocol.EventFuncResult:
			if evt.IsError {
				fmt.Printf("\n[tool error] %s\n", evt.Result)
			}
		case protocol.EventStreamError:
			if inThinking {
				fmt.Print("\x1b[0m")
				inThinking = false
			}
			fmt.Printf("\n[stream %s] %s\n", evt.Reason, evt.Error)
		case protocol.EventDiligenceBudget:
			if evt.RemainingCount != nil {
				fmt.Printf("\n[continuing, %d pushes left]\n", *evt.RemainingCount)
			}
		}
	}
}
