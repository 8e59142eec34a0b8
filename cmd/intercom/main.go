// Command intercom is the composition root for every intercom role:
// hub, daemon, standalone, the per-agent tool-server adapter, and the
// check-inbox hook helper, grounded on orris-inc-orris's
// cmd/orris/main.go cobra root plus per-verb NewCommand() files, kept
// in the teacher's plain log.Printf texture rather than structured
// logging since the teacher never carries one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"intercom/internal/apperror"
)

// Exit codes per spec.md §6.
const (
	exitOK            = 0
	exitConfigOrIOErr = 1
	exitAuthErr       = 2
)

func main() {
	root := &cobra.Command{
		Use:           "intercom",
		Short:         "Distributed message bus for autonomous coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newHubCommand(),
		newDaemonCommand(),
		newStandaloneCommand(),
		newToolServerCommand(),
		newCheckInboxCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "intercom:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to spec.md §6's exit codes: 2 for
// an authentication failure, 1 for everything else (config/IO/startup
// errors), 0 only on the happy path (never reached here, since a nil
// error never calls this).
func exitCodeFor(err error) int {
	if appErr, ok := apperror.As(err); ok {
		switch appErr.Code() {
		case apperror.CodeAuthStale, apperror.CodeAuthBadSignature, apperror.CodeAuthUnknownMachine:
			return exitAuthErr
		}
	}
	return exitConfigOrIOErr
}
