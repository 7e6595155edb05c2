package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.AddCommand(evidenceListCmd)
	evidenceCmd.AddCommand(evidenceShowCmd)
	evidenceListCmd.Flags().Int("limit", 20, "Maximum records to show")
	evidenceShowCmd.Flags().Bool("manifest", false, "Print the stored DSSE manifest instead of the checks")
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect stored evidence records",
}

type evidenceView struct {
	ID          string      `json:"id" yaml:"id"`
	DeviceID    string      `json:"device_id" yaml:"device_id"`
	CaptureKey  string      `json:"capture_key,omitempty" yaml:"capture_key,omitempty"`
	MediaDigest string      `json:"media_digest" yaml:"media_digest"`
	Confidence  string      `json:"confidence" yaml:"confidence"`
	CreatedAt   string      `json:"created_at" yaml:"created_at"`
	Checks      []checkView `json:"checks,omitempty" yaml:"checks,omitempty"`
}

func newEvidenceView(r *store.EvidenceRecord) evidenceView {
	return evidenceView{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		CaptureKey:  r.CaptureKey,
		MediaDigest: r.MediaDigest,
		Confidence:  r.Confidence,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

var evidenceListCmd = &cobra.Command{
	Use:     "list <device-id>",
	Aliases: []string{"ls"},
	Short:   "List evidence for a device, newest first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		records, err := dataStore.ListEvidenceByDevice(cmd.Context(), args[0], limit)
		if err != nil {
			return fmt.Errorf("list evidence: %w", err)
		}

		views := make([]evidenceView, 0, len(records))
		for _, r := range records {
			views = append(views, newEvidenceView(r))
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), views); handled {
			return err
		}

		if len(views) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No evidence for device %s.\n", args[0])
			return nil
		}
		t := newTable(cmd.OutOrStdout())
		fmt.Fprintln(t, "ID\tCONFIDENCE\tCAPTURE\tMEDIA\tCREATED")
		for _, r := range records {
			capture := r.CaptureKey
			if capture == "" {
				capture = "-"
			}
			fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%s\n",
				r.ID,
				colorConfidence(evidence.ConfidenceLevel(r.Confidence)),
				capture,
				truncate(r.MediaDigest, 24),
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return t.Flush()
	},
}

var evidenceShowCmd = &cobra.Command{
	Use:   "show <evidence-id>",
	Short: "Show one evidence record with its checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := dataStore.GetEvidence(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get evidence: %w", err)
		}
		if rec == nil {
			return clierror.EvidenceNotFound(args[0])
		}

		if raw, _ := cmd.Flags().GetBool("manifest"); raw {
			_, err := cmd.OutOrStdout().Write(append(rec.Manifest, '\n'))
			return err
		}

		var a evidence.Assessment
		if err := json.Unmarshal(rec.Package, &a); err != nil {
			return fmt.Errorf("decode stored assessment: %w", err)
		}
		view := newEvidenceView(rec)
		view.Checks = checkViews(a.Evidence)
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Evidence:   %s\n", view.ID)
		fmt.Fprintf(w, "Device:     %s\n", view.DeviceID)
		if view.CaptureKey != "" {
			fmt.Fprintf(w, "Capture:    %s\n", view.CaptureKey)
		}
		fmt.Fprintf(w, "Media:      %s\n", view.MediaDigest)
		fmt.Fprintf(w, "Created:    %s\n", view.CreatedAt)
		fmt.Fprintf(w, "Confidence: %s\n\n", colorConfidence(a.Confidence))
		printChecks(w, a.Evidence)
		return nil
	},
}
