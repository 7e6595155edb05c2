package cmd

import (
	"bytes"
	"crypto"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("alg", reqauth.AlgES256, "Key algorithm: ES256 or EdDSA")
	keygenCmd.Flags().String("out", "", "Private key output path (required)")
	keygenCmd.Flags().String("pub", "", "Public key output path (default: <out>.pub)")
	keygenCmd.Flags().Bool("jwk", false, "Write the public key as JWK instead of PEM")
	_ = keygenCmd.MarkFlagRequired("out")
}

type keyView struct {
	Algorithm   string `json:"algorithm" yaml:"algorithm"`
	PrivateKey  string `json:"private_key" yaml:"private_key"`
	PublicKey   string `json:"public_key" yaml:"public_key"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a manifest signing key or a development device key",
	Long: `Generate a key pair and write it as PKCS#8 PEM.

The same format serves the manifest signing key (manifest.signing_key_file)
and development device keys used with 'realitycam process'.

Examples:
  realitycam keygen --out signing.pem
  realitycam keygen --alg EdDSA --out device.pem --jwk`,
	Annotations: noStore(),
	RunE: func(cmd *cobra.Command, args []string) error {
		alg, _ := cmd.Flags().GetString("alg")
		out, _ := cmd.Flags().GetString("out")
		pubPath, _ := cmd.Flags().GetString("pub")
		asJWK, _ := cmd.Flags().GetBool("jwk")
		if pubPath == "" {
			pubPath = out + ".pub"
		}

		key, err := reqauth.GenerateKey(alg)
		if err != nil {
			return err
		}
		privPEM, err := reqauth.MarshalPrivateKeyPEM(key)
		if err != nil {
			return err
		}
		var pubData []byte
		if asJWK {
			pubData, err = reqauth.PublicKeyJWK(key.Public())
		} else {
			pubData, err = reqauth.MarshalPublicKeyPEM(key.Public())
		}
		if err != nil {
			return err
		}
		der, err := reqauth.MarshalPublicKey(key.Public())
		if err != nil {
			return err
		}

		if err := os.WriteFile(out, privPEM, 0600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		if err := os.WriteFile(pubPath, pubData, 0644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}

		view := keyView{
			Algorithm:   alg,
			PrivateKey:  out,
			PublicKey:   pubPath,
			Fingerprint: reqauth.KeyFingerprint(der),
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s key written to %s\n", okFmt("✓"), alg, out)
		fmt.Fprintf(w, "  Public key:  %s\n", pubPath)
		fmt.Fprintf(w, "  Fingerprint: %s\n", view.Fingerprint)
		return nil
	},
}

// loadPublicKey reads a PEM or JWK public key file.
func loadPublicKey(path string) (crypto.PublicKey, error) {
	data, err := readFile(path, "public key")
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return reqauth.ParsePublicKeyJWK(data)
	}
	return reqauth.LoadPublicKeyPEM(data)
}
