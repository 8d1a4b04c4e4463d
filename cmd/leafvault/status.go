// Status command summarizes the local store, queue, and connectivity.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/pkg/types"
)

type statusReport struct {
	Online      bool              `json:"online"`
	Collections map[string]int    `json:"collections"`
	Cursors     map[string]string `json:"cursors"`
	Pending     map[string]int    `json:"pending"`
	Trash       int               `json:"trash"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, queue, and connectivity status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "status:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		s.probe(ctx)

		report := statusReport{
			Online:      s.monitor.Online(),
			Collections: make(map[string]int),
			Cursors:     make(map[string]string),
			Pending:     make(map[string]int),
		}
		for _, collection := range types.Collections {
			entities, err := s.store.List(collection, func(e *types.Entity) bool { return e.Visible() })
			if err != nil {
				fmt.Fprintln(os.Stderr, "status:", err)
				os.Exit(exitSysError)
			}
			report.Collections[collection] = len(entities)
			if cursor := s.engine.Cursor(collection); !cursor.IsZero() {
				report.Cursors[collection] = cursor.Format(time.RFC3339)
			}
		}
		for _, op := range s.queue.List() {
			report.Pending[string(op.Status)]++
		}
		records, err := s.trash.List()
		if err != nil {
			fmt.Fprintln(os.Stderr, "status:", err)
			os.Exit(exitSysError)
		}
		report.Trash = len(records)

		if flagJSON {
			return printJSON(report)
		}

		if report.Online {
			fmt.Println("remote:  online")
		} else {
			fmt.Println("remote:  offline")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, collection := range types.Collections {
			cursor := report.Cursors[collection]
			if cursor == "" {
				cursor = "never synced"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", collection, report.Collections[collection], cursor)
		}
		w.Flush()
		fmt.Printf("pending: %d queued, %d failed\n",
			report.Pending[string(types.OpQueued)], report.Pending[string(types.OpFailed)])
		fmt.Printf("trash:   %d items\n", report.Trash)
		return nil
	},
}
