package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceShowCmd)

	deviceRegisterCmd.Flags().String("attestation", "", "Attestation object file (CBOR, required)")
	deviceRegisterCmd.Flags().String("challenge", "", "Challenge id the attestation commits to (required)")
	deviceRegisterCmd.Flags().String("public-key", "", "Claimed device public key, PEM or JWK")
	deviceRegisterCmd.Flags().String("model", "", "Device model, e.g. \"iPhone 15 Pro\"")
	_ = deviceRegisterCmd.MarkFlagRequired("attestation")
	_ = deviceRegisterCmd.MarkFlagRequired("challenge")
}

var deviceCmd = &cobra.Command{
	Use:     "device",
	Aliases: []string{"devices"},
	Short:   "Register and inspect capture devices",
}

type deviceView struct {
	ID               string     `json:"id" yaml:"id"`
	Model            string     `json:"model,omitempty" yaml:"model,omitempty"`
	AttestationLevel string     `json:"attestation_level" yaml:"attestation_level"`
	KeyFingerprint   string     `json:"key_fingerprint" yaml:"key_fingerprint"`
	Counter          uint64     `json:"counter" yaml:"counter"`
	LastSeen         *time.Time `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	AttestedAt       *time.Time `json:"attested_at,omitempty" yaml:"attested_at,omitempty"`
	RegisteredAt     time.Time  `json:"registered_at" yaml:"registered_at"`
	Reason           string     `json:"downgrade_reason,omitempty" yaml:"downgrade_reason,omitempty"`
}

func newDeviceView(d *store.Device) deviceView {
	return deviceView{
		ID:               d.ID,
		Model:            d.Model,
		AttestationLevel: string(d.AttestationLevel),
		KeyFingerprint:   d.KeyFingerprint,
		Counter:          d.Counter,
		LastSeen:         d.LastSeen,
		AttestedAt:       d.AttestedAt,
		RegisteredAt:     d.RegisteredAt,
	}
}

func colorLevel(l store.AttestationLevel) string {
	if l == store.AttestationHardwareVerified {
		return okFmt(string(l))
	}
	return warnFmt(string(l))
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register <device-id>",
	Short: "Register a device from its attestation object",
	Long: `Verify a device's attestation object and register or re-attest it.

A verified attestation registers the device as hardware_verified with the
attested key. A downgraded attestation registers a new device as unverified
with the claimed --public-key; it never changes an existing device.

Examples:
  realitycam challenge issue dev-123
  realitycam device register dev-123 --attestation att.cbor --challenge <id>
  realitycam device register dev-123 --attestation att.cbor --challenge <id> \
      --public-key device.pub --model "iPhone 15 Pro"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attPath, _ := cmd.Flags().GetString("attestation")
		challengeID, _ := cmd.Flags().GetString("challenge")
		keyPath, _ := cmd.Flags().GetString("public-key")
		model, _ := cmd.Flags().GetString("model")

		envelope, err := readFile(attPath, "attestation object")
		if err != nil {
			return err
		}
		var keyDER []byte
		if keyPath != "" {
			pub, err := loadPublicKey(keyPath)
			if err != nil {
				return err
			}
			if keyDER, err = reqauth.MarshalPublicKey(pub); err != nil {
				return err
			}
		}

		verifier, err := newVerifier(cmd.Context())
		if err != nil {
			return err
		}
		registrar := attestation.NewRegistrar(dataStore, verifier,
			attestation.WithRegistrarLogger(logger),
			attestation.WithAuditEmitter(emitter),
		)
		d, result, err := registrar.Register(cmd.Context(), attestation.RegisterRequest{
			DeviceID:      args[0],
			Envelope:      envelope,
			PublicKey:     keyDER,
			ChallengeID:   challengeID,
			Model:         model,
			CorrelationID: uuid.NewString(),
		})
		switch {
		case errors.Is(err, store.ErrDeviceExists):
			return clierror.AlreadyExists("device", args[0])
		case attestation.IsMalformed(err):
			return clierror.InvalidInput("attestation object", err)
		case err != nil:
			return err
		}

		view := newDeviceView(d)
		if !result.Verified() {
			view.Reason = result.Reason
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Device %s: %s\n", d.ID, colorLevel(d.AttestationLevel))
		fmt.Fprintf(w, "  Fingerprint: %s\n", d.KeyFingerprint)
		if view.Reason != "" {
			fmt.Fprintf(w, "  Attestation downgraded: %s\n", view.Reason)
		}
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered devices",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := dataStore.ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		views := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			views = append(views, newDeviceView(d))
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), views); handled {
			return err
		}

		w := cmd.OutOrStdout()
		if len(devices) == 0 {
			fmt.Fprintln(w, "No devices registered")
			return nil
		}
		t := newTable(w)
		fmt.Fprintln(t, "ID\tMODEL\tATTESTATION\tCOUNTER\tLAST SEEN")
		for _, d := range devices {
			lastSeen := "never"
			if d.LastSeen != nil {
				lastSeen = timeutil.Relative(*d.LastSeen)
			}
			fmt.Fprintf(t, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Model, colorLevel(d.AttestationLevel), d.Counter, lastSeen)
		}
		return t.Flush()
	},
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dataStore.GetDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if d == nil {
			return clierror.DeviceNotFound(args[0])
		}
		view := newDeviceView(d)
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ID:           %s\n", d.ID)
		fmt.Fprintf(w, "Model:        %s\n", d.Model)
		fmt.Fprintf(w, "Attestation:  %s\n", colorLevel(d.AttestationLevel))
		fmt.Fprintf(w, "Fingerprint:  %s\n", d.KeyFingerprint)
		fmt.Fprintf(w, "Counter:      %d\n", d.Counter)
		fmt.Fprintf(w, "Registered:   %s\n", d.RegisteredAt.Format(time.RFC3339))
		if d.AttestedAt != nil {
			fmt.Fprintf(w, "Attested:     %s\n", d.AttestedAt.Format(time.RFC3339))
		}
		return nil
	},
}
