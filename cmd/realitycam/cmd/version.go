package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LucaDeLeo/realitycam-sub004/internal/version"
	"github.com/LucaDeLeo/realitycam-sub004/internal/versioncheck"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

type versionView struct {
	Version         string `json:"version" yaml:"version"`
	Commit          string `json:"commit,omitempty" yaml:"commit,omitempty"`
	GoVersion       string `json:"go_version" yaml:"go_version"`
	Platform        string `json:"platform" yaml:"platform"`
	LatestVersion   string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	UpdateAvailable bool   `json:"update_available,omitempty" yaml:"update_available,omitempty"`
	UpgradeCommand  string `json:"upgrade_command,omitempty" yaml:"upgrade_command,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return newVersionCmdWithChecker(nil)
}

// newVersionCmdWithChecker lets tests point --check at a fake release API.
func newVersionCmdWithChecker(checker *versioncheck.Checker) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: noStore(),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			view := versionView{
				Version:   info.Version,
				Commit:    info.Commit,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			}

			var result *versioncheck.CheckResult
			if check, _ := cmd.Flags().GetBool("check"); check {
				c := checker
				if c == nil {
					c = versioncheck.NewChecker()
				}
				result = c.Check(cmd.Context(), view.Version)
				view.LatestVersion = result.LatestVersion
				view.UpdateAvailable = result.UpdateAvailable
				if result.UpdateAvailable {
					view.UpgradeCommand = result.UpgradeCommand
				}
			}
			if handled, err := formatOutput(cmd.OutOrStdout(), view); handled {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "realitycam version %s\n", view.Version)
			if view.Commit != "" {
				fmt.Fprintf(w, "commit: %s\n", view.Commit)
			}
			fmt.Fprintf(w, "go: %s %s\n", view.GoVersion, view.Platform)
			switch {
			case result == nil:
			case result.LatestVersion == "":
				fmt.Fprintf(w, "%s Could not check for updates: %v\n", warnFmt("!"), result.Error)
			case result.UpdateAvailable:
				fmt.Fprintf(w, "\n%s A newer version is available: %s\n", warnFmt("!"), result.LatestVersion)
				fmt.Fprintf(w, "  %s\n", result.UpgradeCommand)
			default:
				fmt.Fprintf(w, "%s You are running the latest version\n", okFmt("✓"))
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "Check GitHub for a newer release")
	return cmd
}
