package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	f := auditListCmd.Flags()
	f.String("device", "", "Only events for this device")
	f.String("correlation", "", "Only events for this correlation id")
	f.String("action", "", "Only events of this type (e.g. auth.reject)")
	f.Duration("since", 0, "Only events newer than this (e.g. 1h)")
	f.Int("limit", 50, "Maximum events to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
}

type auditView struct {
	ID            int64             `json:"id" yaml:"id"`
	Timestamp     string            `json:"timestamp" yaml:"timestamp"`
	Action        string            `json:"action" yaml:"action"`
	Severity      string            `json:"severity" yaml:"severity"`
	DeviceID      string            `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Details       map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

var auditListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List audit events, newest first",
	Long: `List audit events recorded by the store backend.

Examples:
  realitycam audit list --device dev-123
  realitycam audit list --action auth.reject --since 24h
  realitycam audit list --correlation 0f6c2d1e-... -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		filter := store.AuditFilter{}
		filter.ActorID, _ = flags.GetString("device")
		filter.CorrelationID, _ = flags.GetString("correlation")
		filter.Action, _ = flags.GetString("action")
		filter.Limit, _ = flags.GetInt("limit")
		if since, _ := flags.GetDuration("since"); since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		if filter.Action != "" && !knownEventType(filter.Action) {
			return fmt.Errorf("unknown action %q", filter.Action)
		}

		entries, err := dataStore.QueryAuditEntries(filter)
		if err != nil {
			return fmt.Errorf("query audit log: %w", err)
		}

		views := make([]auditView, 0, len(entries))
		for _, e := range entries {
			views = append(views, auditView{
				ID:            e.ID,
				Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
				Action:        e.Action,
				Severity:      audit.Severity(e.Severity).String(),
				DeviceID:      e.ActorID,
				CorrelationID: e.CorrelationID,
				Details:       e.Details,
			})
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), views); handled {
			return err
		}

		if len(views) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit events.")
			return nil
		}
		t := newTable(cmd.OutOrStdout())
		fmt.Fprintln(t, "TIME\tSEVERITY\tACTION\tDEVICE\tDETAILS")
		for _, v := range views {
			device := v.DeviceID
			if device == "" {
				device = "-"
			}
			fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%s\n",
				v.Timestamp, v.Severity, v.Action, device, truncate(formatDetails(v.Details), 60))
		}
		return t.Flush()
	},
}

func knownEventType(action string) bool {
	for _, et := range audit.AllEventTypes() {
		if string(et) == action {
			return true
		}
	}
	return false
}

func formatDetails(d map[string]string) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+d[k])
	}
	return strings.Join(parts, " ")
}
