package cmd

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(challengeCmd)
	challengeCmd.AddCommand(challengeIssueCmd)
	challengeCmd.AddCommand(challengeCleanupCmd)
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Manage attestation challenges",
}

type challengeView struct {
	ID        string    `json:"id" yaml:"id"`
	DeviceID  string    `json:"device_id" yaml:"device_id"`
	Nonce     string    `json:"nonce" yaml:"nonce"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

var challengeIssueCmd = &cobra.Command{
	Use:   "issue <device-id>",
	Short: "Issue a single-use attestation challenge",
	Long: `Issue a challenge for a device to commit to in its attestation object.

The nonce is printed base64-encoded. The challenge expires after
attestation.challenge_ttl and can be redeemed once.

Examples:
  realitycam challenge issue dev-123
  realitycam challenge issue dev-123 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := newIssuer(cmd.Context())
		if err != nil {
			return err
		}
		issued, err := issuer.Issue(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		view := challengeView{
			ID:        issued.ID,
			DeviceID:  args[0],
			Nonce:     base64.StdEncoding.EncodeToString(issued.Nonce),
			ExpiresAt: issued.ExpiresAt.UTC(),
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Challenge: %s\n", view.ID)
		fmt.Fprintf(w, "Nonce:     %s\n", view.Nonce)
		fmt.Fprintf(w, "Expires:   %s\n", view.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var challengeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired challenges from the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := dataStore.CleanupExpiredChallenges(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), map[string]int64{"deleted": n}); handled {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired challenge(s)\n", n)
		return nil
	},
}
