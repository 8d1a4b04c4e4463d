// Pending commands inspect and manage the pending-operation queue.
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/pkg/types"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and manage queued operations",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "pending:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		ops := s.queue.List()
		if flagJSON {
			return printJSON(ops)
		}
		if len(ops) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
		for _, op := range ops {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				op.PendingID, op.Kind, op.Status, op.Attempts,
				op.CreatedAt.Format(time.RFC3339), op.LastError)
		}
		return w.Flush()
	},
}

var pendingRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a failed operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid operation id %q", args[0])
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "pending:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		if err := s.queue.Retry(id); err != nil {
			return fmt.Errorf("retry operation %d: %w", id, err)
		}

		s.probe(cmd.Context())
		if s.monitor.Online() {
			s.queue.Drain(cmd.Context())
		}
		fmt.Printf("operation %d requeued\n", id)
		return nil
	},
}

var pendingDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Permanently remove a failed operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid operation id %q", args[0])
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "pending:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		if err := s.queue.Discard(id); err != nil {
			return fmt.Errorf("discard operation %d: %w", id, err)
		}
		fmt.Printf("operation %d discarded\n", id)
		return nil
	},
}

var pendingDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run every queued operation now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "pending:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		s.probe(cmd.Context())
		s.queue.Drain(cmd.Context())

		remaining := len(s.queue.List(types.OpQueued))
		failed := len(s.queue.List(types.OpFailed))
		fmt.Printf("drain complete: %d still queued, %d failed\n", remaining, failed)
		return nil
	},
}

func init() {
	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingRetryCmd)
	pendingCmd.AddCommand(pendingDiscardCmd)
	pendingCmd.AddCommand(pendingDrainCmd)
}
