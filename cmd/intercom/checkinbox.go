package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"intercom/internal/inbox"
)

var (
	checkInboxSessionID string
	checkInboxStateDir  string
	checkInboxFormat    string
)

func newCheckInboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-inbox",
		Short: "Drain a session's inbox once and print unread messages",
		RunE:  runCheckInbox,
	}
	cmd.Flags().StringVar(&checkInboxSessionID, "session-id", "", "session id whose inbox to drain")
	cmd.Flags().StringVar(&checkInboxStateDir, "state-dir", ".", "daemon state directory (containing inbox/)")
	cmd.Flags().StringVar(&checkInboxFormat, "format", "hook", "output format: hook or json")
	cmd.MarkFlagRequired("session-id")
	return cmd
}

// runCheckInbox drains the inbox exactly once, per spec.md §7's
// "check_inbox drains unread messages exactly once" edge case: a
// second invocation against an unchanged file prints nothing.
func runCheckInbox(cmd *cobra.Command, args []string) error {
	path := filepath.Join(checkInboxStateDir, "inbox", checkInboxSessionID+".jsonl")
	messages, err := inbox.Drain(path)
	if err != nil {
		return fmt.Errorf("draining inbox %s: %w", path, err)
	}

	switch checkInboxFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(map[string]interface{}{"messages": messages})
	default:
		if len(messages) == 0 {
			return nil
		}
		for _, m := range messages {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.FromAgent, m.Message)
		}
		return nil
	}
}
