// Scan command submits a captured leaf image for disease analysis.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <tree-code> <image-file>",
	Short: "Submit a leaf image for disease analysis",
	Long: `Scan submits a captured leaf image for the given tree. When the
inference service is reachable the analysis is stored immediately; otherwise
the scan is queued durably and runs when connectivity returns.

Example:
  leafvault scan A-001 capture.jpg`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		treeCode, imagePath := args[0], args[1]

		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		mimeType := mimeFromExt(imagePath)
		if mimeType == "" {
			return fmt.Errorf("unsupported image type %q (want .jpg, .jpeg, or .png)", filepath.Ext(imagePath))
		}

		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		ctx := cmd.Context()
		s.probe(ctx)

		result, op, err := s.scans.Submit(ctx, &types.ScanRequest{
			UserID:    s.cfg.UserID,
			TreeCode:  treeCode,
			ImageData: base64.StdEncoding.EncodeToString(data),
			MimeType:  mimeType,
		})
		if err != nil {
			return fmt.Errorf("scan rejected: %w", err)
		}

		if op != nil {
			if flagJSON {
				return printJSON(op)
			}
			fmt.Printf("offline: scan queued as operation %d\n", op.PendingID)
			return nil
		}

		// Push the new entities while we are online anyway.
		if err := s.engine.SyncOnce(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "warning: sync after scan failed:", err)
		}

		if flagJSON {
			return printJSON(result)
		}
		fmt.Printf("analysis stored for tree %s (%d detections)\n", treeCode, len(result.Detections))
		for _, detection := range result.Detections {
			var identified types.DiseaseIdentified
			if detection.DecodePayload(&identified) != nil {
				continue
			}
			fmt.Printf("  %s (%.0f%%)\n", identified.DiseaseName, identified.LikelihoodScore*100)
		}
		return nil
	},
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return ""
	}
}
