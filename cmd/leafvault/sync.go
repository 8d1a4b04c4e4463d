// Sync command runs one full synchronization pass.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/pkg/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass against the remote",
	Long: `Sync pushes local changes, pulls remote changes for every
collection, and drains the pending-operation queue once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "sync:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		ctx := cmd.Context()
		s.probe(ctx)
		if !s.monitor.Online() {
			return fmt.Errorf("remote %s is unreachable", s.cfg.RemoteURL)
		}

		s.queue.Drain(ctx)
		if err := s.engine.SyncOnce(ctx); err != nil {
			return fmt.Errorf("sync pass: %w", err)
		}

		for _, collection := range types.Collections {
			cursor := s.engine.Cursor(collection)
			if cursor.IsZero() {
				fmt.Printf("%-20s no remote changes\n", collection)
				continue
			}
			fmt.Printf("%-20s synced through %s\n", collection, cursor.Format(time.RFC3339))
		}
		return nil
	},
}
