// Package cli provides shared test utilities for CLI testing with cobra commands.
//
// # Basic Usage
//
// Execute a command and check output:
//
//	result := cli.Run(myCmd, "--help")
//	result.AssertSuccess(t)
//	result.AssertContains(t, "Usage:")
//
// Structured output can be decoded directly:
//
//	result := cli.Run(myCmd, "device", "show", "dev-1", "-o", "json")
//	var view struct{ ID string `json:"id"` }
//	result.DecodeJSON(t, &view)
//
// # Resetting Commands
//
// A package-level command tree keeps flag values between runs. Reset
// returns every flag to its default first:
//
//	result := cli.Reset(rootCmd).Run("evidence", "list", "dev-1")
//
// # Files
//
// WriteFile places config files, keys and media in a temp directory:
//
//	dir := t.TempDir()
//	cfgPath := cli.WriteFile(t, dir, "realitycam.yaml", cfg)
package cli
