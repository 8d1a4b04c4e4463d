// Feedback command queues a feedback message for the service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/pkg/types"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <subject> <message>",
	Short: "Send feedback to the service",
	Long: `Feedback queues a message for the service. The message is stored
durably right away and delivered on the next drain with connectivity.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "feedback:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		op, err := s.scans.SubmitFeedback(&types.Feedback{
			UserID:  s.cfg.UserID,
			Subject: args[0],
			Message: args[1],
		})
		if err != nil {
			return fmt.Errorf("queue feedback: %w", err)
		}

		s.probe(cmd.Context())
		if s.monitor.Online() {
			s.queue.Drain(cmd.Context())
			if err := s.engine.SyncOnce(cmd.Context()); err != nil {
				fmt.Fprintln(os.Stderr, "warning: sync after feedback failed:", err)
			}
			fmt.Println("feedback delivered")
			return nil
		}
		fmt.Printf("offline: feedback queued as operation %d\n", op.PendingID)
		return nil
	},
}
