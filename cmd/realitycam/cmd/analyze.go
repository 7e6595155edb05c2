package cmd

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().String("depth", "", "Depth map file (RCDM, required)")
	analyzeCmd.Flags().String("image", "", "Captured image, JPEG or PNG (required)")
	_ = analyzeCmd.MarkFlagRequired("depth")
	_ = analyzeCmd.MarkFlagRequired("image")
}

type analyzeView struct {
	Status  string             `json:"status" yaml:"status"`
	Reason  string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Metrics map[string]float64 `json:"metrics" yaml:"metrics"`
	Labels  map[string]string  `json:"labels,omitempty" yaml:"labels,omitempty"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run scene analysis on a depth map and image",
	Long: `Run the depth analyzer alone, using the depth section of the
configuration. Useful for calibrating thresholds.

Examples:
  realitycam analyze --depth IMG_0001.rcdm --image IMG_0001.png
  realitycam analyze --depth IMG_0001.rcdm --image IMG_0001.png --config tuned.yaml -o json`,
	Args:        cobra.NoArgs,
	Annotations: noStore(),
	RunE: func(cmd *cobra.Command, args []string) error {
		depthPath, _ := cmd.Flags().GetString("depth")
		imagePath, _ := cmd.Flags().GetString("image")

		data, err := readFile(depthPath, "depth map")
		if err != nil {
			return err
		}
		m, err := depth.DecodeMap(data)
		if err != nil {
			return err
		}
		raw, err := readFile(imagePath, "image")
		if err != nil {
			return err
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}

		r := depth.NewAnalyzer(cfg.Depth, depth.WithLogger(logger)).Analyze(cmd.Context(), m, img)
		view := analyzeView{
			Status:  string(r.Status()),
			Reason:  r.Reason(),
			Metrics: r.Metrics(),
			Labels:  r.Labels(),
		}
		if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Scene analysis: %s\n", colorStatus(r.Status()))
		if view.Reason != "" {
			fmt.Fprintf(w, "Reason: %s\n", view.Reason)
		}
		names := make([]string, 0, len(view.Metrics))
		for name := range view.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		t := newTable(w)
		fmt.Fprintln(t, "\nMETRIC\tVALUE")
		for _, name := range names {
			fmt.Fprintf(t, "%s\t%.4g\n", name, view.Metrics[name])
		}
		return t.Flush()
	},
}
