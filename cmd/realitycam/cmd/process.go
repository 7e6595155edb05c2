package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/internal/pipeline"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/clierror"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
)

func init() {
	rootCmd.AddCommand(processCmd)
	f := processCmd.Flags()
	f.String("device", "", "Device id (required)")
	f.String("device-key", "", "Device private key PEM used to sign the request (required)")
	f.Uint64("counter", 0, "Request counter, greater than the device's last (required)")
	f.String("media", "", "Captured image (required)")
	f.String("depth", "", "Depth map file (RCDM)")
	f.String("metadata", "", "Capture metadata JSON")
	f.String("capture-key", "", "Logical capture id; a later submission with the same key supersedes this one")
	f.String("assertion", "", "Hardware assertion over the signed body")
	f.String("attestation", "", "Attestation object to re-verify with the capture")
	f.String("challenge", "", "Challenge id for --attestation")
	f.String("out", "", "Output path for signed media or the sidecar manifest")
	for _, name := range []string{"device", "device-key", "counter", "media"} {
		_ = processCmd.MarkFlagRequired(name)
	}
}

type processView struct {
	EvidenceID    string      `json:"evidence_id" yaml:"evidence_id"`
	CorrelationID string      `json:"correlation_id" yaml:"correlation_id"`
	DeviceID      string      `json:"device_id" yaml:"device_id"`
	Confidence    string      `json:"confidence" yaml:"confidence"`
	ManifestID    string      `json:"manifest_id" yaml:"manifest_id"`
	Output        string      `json:"output" yaml:"output"`
	Embedded      bool        `json:"embedded" yaml:"embedded"`
	Checks        []checkView `json:"checks" yaml:"checks"`
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a capture through the evidence pipeline",
	Long: `Sign a capture as the device would and run it through the pipeline.

The request is authenticated, the three checks run in parallel and the
resulting assessment is stored, signed and written out. JPEG and PNG media
receive an embedded manifest; other containers get a sidecar
<media>.dsse.json.

Examples:
  realitycam process --device dev-123 --device-key device.pem --counter 1 \
      --media IMG_0001.png --depth IMG_0001.rcdm --metadata IMG_0001.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		deviceID, _ := flags.GetString("device")
		keyPath, _ := flags.GetString("device-key")
		counter, _ := flags.GetUint64("counter")
		mediaPath, _ := flags.GetString("media")
		depthPath, _ := flags.GetString("depth")
		metaPath, _ := flags.GetString("metadata")
		captureKey, _ := flags.GetString("capture-key")
		assertionPath, _ := flags.GetString("assertion")
		attPath, _ := flags.GetString("attestation")
		challengeID, _ := flags.GetString("challenge")
		outPath, _ := flags.GetString("out")

		sub, err := loadSubmission(deviceID, counter, captureKey, mediaPath, depthPath, metaPath, attPath, challengeID)
		if err != nil {
			return err
		}
		if assertionPath != "" {
			if sub.Assertion, err = readFile(assertionPath, "assertion"); err != nil {
				return err
			}
		}
		keyPEM, err := readFile(keyPath, "device key")
		if err != nil {
			return err
		}
		key, err := reqauth.LoadPrivateKeyPEM(keyPEM)
		if err != nil {
			return err
		}
		body, err := sub.SignedBody()
		if err != nil {
			return err
		}
		if sub.Signature, err = reqauth.SignRequest(key, sub.RequestTime, reqauth.BodyHash(body)); err != nil {
			return err
		}

		p, err := newProcessor(cmd.Context())
		if err != nil {
			return err
		}
		res, err := p.Process(cmd.Context(), sub)
		if err != nil {
			if code := reqauth.ErrorCode(err); code != "" {
				return clierror.SubmissionRejected(code, err)
			}
			return err
		}

		data := res.SignedMedia
		if data == nil {
			data = res.Manifest
		}
		if outPath == "" {
			outPath = defaultOutput(mediaPath, res.SignedMedia != nil)
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		view := processView{
			EvidenceID:    res.EvidenceID,
			CorrelationID: res.CorrelationID,
			DeviceID:      res.Device.ID,
			Confidence:    string(res.Confidence),
			ManifestID:    res.Statement.Predicate.ManifestID,
			Output:        outPath,
			Embedded:      res.SignedMedia != nil,
			Checks:        checkViews(res.EvidencePackage),
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Confidence: %s\n\n", colorConfidence(res.Confidence))
		printChecks(w, res.EvidencePackage)
		fmt.Fprintf(w, "\nEvidence: %s\n", res.EvidenceID)
		if view.Embedded {
			fmt.Fprintf(w, "Signed media written to %s\n", outPath)
		} else {
			fmt.Fprintf(w, "Sidecar manifest written to %s\n", outPath)
		}
		return nil
	},
}

func loadSubmission(deviceID string, counter uint64, captureKey, mediaPath, depthPath, metaPath, attPath, challengeID string) (*pipeline.Submission, error) {
	media, err := readFile(mediaPath, "media")
	if err != nil {
		return nil, err
	}
	sub := &pipeline.Submission{
		DeviceID:    deviceID,
		RequestTime: time.Now(),
		Counter:     counter,
		CaptureKey:  captureKey,
		MediaRef:    filepath.Base(mediaPath),
		Media:       media,
	}

	if depthPath != "" {
		data, err := readFile(depthPath, "depth map")
		if err != nil {
			return nil, err
		}
		if sub.Depth, err = depth.DecodeMap(data); err != nil {
			return nil, err
		}
	}
	if metaPath != "" {
		data, err := readFile(metaPath, "metadata")
		if err != nil {
			return nil, err
		}
		var d metadata.Declared
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		sub.Metadata = &d
	}
	if attPath != "" {
		envelope, err := readFile(attPath, "attestation object")
		if err != nil {
			return nil, err
		}
		sub.Attestation = &pipeline.AttestationProof{Envelope: envelope, ChallengeID: challengeID}
	}
	return sub, nil
}

// defaultOutput derives IMG.signed.png for embedded manifests and
// IMG.heic.dsse.json for sidecars.
func defaultOutput(mediaPath string, embedded bool) string {
	if !embedded {
		return mediaPath + ".dsse.json"
	}
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".signed" + ext
}
