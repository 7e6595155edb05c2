package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// formatOutput writes data as JSON or YAML. It reports false for table
// output, which each command renders itself.
func formatOutput(w io.Writer, data any) (bool, error) {
	switch outputFormat {
	case "json":
		return true, outputJSON(w, data)
	case "yaml":
		return true, outputYAML(w, data)
	default:
		return false, nil
	}
}

func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func colorConfidence(c evidence.ConfidenceLevel) string {
	switch c {
	case evidence.ConfidenceHigh:
		return okFmt(string(c))
	case evidence.ConfidenceMedium:
		return warnFmt(string(c))
	case evidence.ConfidenceSuspicious:
		return errFmt(string(c))
	default:
		return dimFmt(string(c))
	}
}

func colorStatus(s evidence.Status) string {
	switch s {
	case evidence.StatusPass:
		return okFmt(string(s))
	case evidence.StatusFail:
		return errFmt(string(s))
	default:
		return warnFmt(string(s))
	}
}

// checkView is the serialized form of one check result.
type checkView struct {
	Category string             `json:"category" yaml:"category"`
	Status   string             `json:"status" yaml:"status"`
	Reason   string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Labels   map[string]string  `json:"labels,omitempty" yaml:"labels,omitempty"`
}

func checkViews(p evidence.Package) []checkView {
	var out []checkView
	for _, c := range evidence.Categories() {
		r, _ := p.Result(c)
		out = append(out, checkView{
			Category: string(c),
			Status:   string(r.Status()),
			Reason:   r.Reason(),
			Metrics:  r.Metrics(),
			Labels:   r.Labels(),
		})
	}
	return out
}

func printChecks(w io.Writer, p evidence.Package) {
	t := newTable(w)
	fmt.Fprintln(t, "CATEGORY\tSTATUS\tREASON")
	for _, c := range evidence.Categories() {
		r, _ := p.Result(c)
		reason := r.Reason()
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(t, "%s\t%s\t%s\n", c, colorStatus(r.Status()), truncate(reason, 60))
	}
	t.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
