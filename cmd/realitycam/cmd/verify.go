package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/internal/versioncheck"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/manifest"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().String("key", "", "Manifest signing public key, PEM or JWK (required)")
	verifyCmd.Flags().String("media", "", "Original media for a sidecar manifest")
	verifyCmd.Flags().String("min-generator", "", "Reject manifests produced by realitycam older than this version")
	_ = verifyCmd.MarkFlagRequired("key")
}

type verifyView struct {
	Valid      bool        `json:"valid" yaml:"valid"`
	KeyID      string      `json:"key_id" yaml:"key_id"`
	Embedded   bool        `json:"embedded" yaml:"embedded"`
	MediaBound bool        `json:"media_bound" yaml:"media_bound"`
	ManifestID string      `json:"manifest_id" yaml:"manifest_id"`
	Subject    string      `json:"subject" yaml:"subject"`
	DeviceID   string      `json:"device_id" yaml:"device_id"`
	Generator  string      `json:"generator" yaml:"generator"`
	Confidence string      `json:"confidence" yaml:"confidence"`
	Checks     []checkView `json:"checks" yaml:"checks"`
}

var verifyCmd = &cobra.Command{
	Use:   "verify <signed-media | manifest>",
	Short: "Verify a signed capture or manifest",
	Long: `Verify a manifest signature and, when media is available, that the
manifest describes exactly that media.

Signed JPEG/PNG media is verified end to end. A bare manifest is verified
for signature only unless --media supplies the original capture.

Examples:
  realitycam verify IMG_0001.signed.png --key signing.pem.pub
  realitycam verify IMG_0002.heic.dsse.json --media IMG_0002.heic --key signing.pem.pub
  realitycam verify IMG_0001.signed.png --key signing.pem.pub --min-generator v0.4.0`,
	Args:        cobra.ExactArgs(1),
	Annotations: noStore(),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		mediaPath, _ := cmd.Flags().GetString("media")
		minGenerator, _ := cmd.Flags().GetString("min-generator")

		pub, err := loadPublicKey(keyPath)
		if err != nil {
			return err
		}
		data, err := readFile(args[0], "input")
		if err != nil {
			return err
		}

		var v *manifest.Verification
		if mediaPath != "" {
			media, err := readFile(mediaPath, "media")
			if err != nil {
				return err
			}
			v, err = manifest.VerifySidecar(cmd.Context(), data, media, pub)
			if err != nil {
				return clierror.VerificationFailed(err)
			}
		} else {
			v, err = manifest.Verify(cmd.Context(), data, pub)
			if err != nil {
				return clierror.VerificationFailed(err)
			}
		}

		pred := v.Statement.Predicate
		ok, err := versioncheck.MeetsMinimum(pred.Generator.Version, minGenerator)
		if err != nil {
			return clierror.InvalidInput("--min-generator", err)
		}
		if !ok {
			return clierror.VerificationFailed(fmt.Errorf("manifest generator %s is older than required %s",
				pred.Generator.Version, versioncheck.NormalizeVersion(minGenerator)))
		}
		subject, _ := v.Statement.SubjectDigest()
		view := verifyView{
			Valid:      true,
			KeyID:      v.KeyID,
			Embedded:   v.Embedded,
			MediaBound: v.Media != nil,
			ManifestID: pred.ManifestID,
			Subject:    subject.String(),
			DeviceID:   pred.Action.DeviceID,
			Generator:  pred.Generator.Name + " " + pred.Generator.Version,
			Confidence: string(pred.Confidence),
			Checks:     checkViews(pred.Evidence),
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s Signature valid (key %s)\n", okFmt("✓"), truncate(v.KeyID, 16))
		if view.MediaBound {
			fmt.Fprintf(w, "%s Media matches %s\n", okFmt("✓"), view.Subject)
		} else {
			fmt.Fprintf(w, "%s Media not checked; pass --media to bind the manifest\n", warnFmt("!"))
		}
		fmt.Fprintf(w, "Device:     %s\n", view.DeviceID)
		fmt.Fprintf(w, "Captured:   %s\n", pred.Action.When.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "Confidence: %s\n\n", colorConfidence(pred.Confidence))
		printChecks(w, pred.Evidence)
		return nil
	},
}
