// Export command writes the store as JSONL files for backup or inspection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <dest-dir>",
	Short: "Export every collection as JSONL",
	Long: `Export writes one <collection>.jsonl file per collection into the
destination directory, one entity per line. Files are written atomically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := attachBackend()
		if err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(exitSysError)
		}
		defer backend.Detach()

		files, err := backend.ExportJSONL(args[0])
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("exported %d collections to %s\n", files, args[0])
		return nil
	},
}
