// Trash commands drive the soft-delete state machine.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/internal/trash"
	"github.com/arborsense/leafvault/pkg/types"
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Soft-delete, restore, and purge trees and images",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "trash:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		records, err := s.trash.List()
		if err != nil {
			return fmt.Errorf("list trash: %w", err)
		}
		if flagJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("trash is empty")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tITEM\tDELETED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.ItemType, rec.ItemID, rec.DeletedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var trashAddCmd = &cobra.Command{
	Use:   "add <tree|image> <id>",
	Short: "Move an item to the trash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := parseItem(args[0], args[1])
		if err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "trash:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		rec, err := s.trash.Trash(item)
		if err != nil {
			return fmt.Errorf("trash %s %s: %w", item.Type, item.ID, err)
		}
		fmt.Printf("trashed %s %s (record %s)\n", item.Type, item.ID, rec.TrashID)
		return nil
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <tree|image> <id> [<id>...]",
	Short: "Restore trashed items",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(args[0], args[1:])
		if err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "trash:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		reportBatch("restored", items, s.trash.RestoreMany(items))
		return nil
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge <tree|image> <id> [<id>...]",
	Short: "Permanently delete trashed items",
	Long: `Purge permanently deletes trashed items. A purged item can never be
restored.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseItems(args[0], args[1:])
		if err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "trash:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		reportBatch("purged", items, s.trash.PurgeMany(items))
		return nil
	},
}

func parseItem(typeName, id string) (trash.Item, error) {
	var itemType types.ItemType
	switch typeName {
	case "tree":
		itemType = types.ItemTypeTree
	case "image":
		itemType = types.ItemTypeImage
	default:
		return trash.Item{}, fmt.Errorf("unknown item type %q (valid: tree, image)", typeName)
	}
	return trash.Item{ID: id, Type: itemType}, nil
}

func parseItems(typeName string, ids []string) ([]trash.Item, error) {
	if len(ids) == 0 {
		return nil, trash.ErrNothingSelected
	}
	items := make([]trash.Item, 0, len(ids))
	for _, id := range ids {
		item, err := parseItem(typeName, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// reportBatch prints per-item outcomes for a batch transition.
func reportBatch(verb string, items []trash.Item, failed []trash.ItemError) {
	failures := make(map[string]error, len(failed))
	for _, f := range failed {
		failures[f.Item.ID] = f.Err
	}
	for _, item := range items {
		if err, ok := failures[item.ID]; ok {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", item.Type, item.ID, err)
			continue
		}
		fmt.Printf("%s %s %s\n", verb, item.Type, item.ID)
	}
	if len(failed) > 0 {
		os.Exit(exitUserError)
	}
}

func init() {
	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashAddCmd)
	trashCmd.AddCommand(trashRestoreCmd)
	trashCmd.AddCommand(trashPurgeCmd)
}
