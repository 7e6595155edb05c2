package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandResult captures the output and error from a command execution.
type CommandResult struct {
	Stdout string
	Stderr string
	Err    error
}

// Run executes a cobra command with the given arguments and captures output.
//
// Example:
//
//	result := cli.Run(versionCmd, "-o", "json")
//	result.AssertSuccess(t)
//	result.AssertContains(t, "go_version")
func Run(cmd *cobra.Command, args ...string) *CommandResult {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

// CommandRunner wraps a cobra command for fluent test execution.
type CommandRunner struct {
	cmd *cobra.Command
}

// Reset returns every flag in the command tree to its default before
// execution. Package-level command trees keep flag values between
// Execute calls, so tests that share one must reset it.
//
// Example:
//
//	result := cli.Reset(rootCmd).Run("device", "list", "--db", dbPath)
func Reset(cmd *cobra.Command) *CommandRunner {
	resetFlags(cmd)
	cmd.SetArgs([]string{})
	return &CommandRunner{cmd: cmd}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// Run executes the command with the given arguments.
func (r *CommandRunner) Run(args ...string) *CommandResult {
	return Run(r.cmd, args...)
}

// AssertSuccess fails the test if the command returned an error.
func (r *CommandResult) AssertSuccess(t *testing.T) {
	t.Helper()
	if r.Err != nil {
		t.Fatalf("expected command to succeed, got error: %v\nstdout: %s\nstderr: %s",
			r.Err, r.Stdout, r.Stderr)
	}
}

// AssertError fails the test if the command did not return an error.
func (r *CommandResult) AssertError(t *testing.T) {
	t.Helper()
	if r.Err == nil {
		t.Fatalf("expected command to fail, but it succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertErrorContains fails the test unless the command failed with an
// error mentioning expected.
func (r *CommandResult) AssertErrorContains(t *testing.T, expected string) {
	t.Helper()
	r.AssertError(t)
	if !strings.Contains(r.Err.Error(), expected) {
		t.Errorf("expected error to contain %q, got %q", expected, r.Err.Error())
	}
}

// AssertContains fails the test if stdout does not contain the expected string.
func (r *CommandResult) AssertContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stdout, expected) {
		t.Errorf("expected stdout to contain %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertNotContains fails the test if stdout contains the unexpected string.
func (r *CommandResult) AssertNotContains(t *testing.T, unexpected string) {
	t.Helper()
	if strings.Contains(r.Stdout, unexpected) {
		t.Errorf("expected stdout NOT to contain %q, got:\n%s", unexpected, r.Stdout)
	}
}

// AssertPrefix fails the test if stdout does not start with the expected prefix.
func (r *CommandResult) AssertPrefix(t *testing.T, expected string) {
	t.Helper()
	trimmed := strings.TrimSpace(r.Stdout)
	if !strings.HasPrefix(trimmed, expected) {
		t.Errorf("expected stdout to start with %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertExact fails the test if stdout does not exactly match the expected string.
func (r *CommandResult) AssertExact(t *testing.T, expected string) {
	t.Helper()
	if r.Stdout != expected {
		t.Errorf("expected stdout to be exactly %q, got %q", expected, r.Stdout)
	}
}

// AssertStderrContains fails the test if stderr does not contain the expected string.
func (r *CommandResult) AssertStderrContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stderr, expected) {
		t.Errorf("expected stderr to contain %q, got:\n%s", expected, r.Stderr)
	}
}

// DecodeJSON unmarshals stdout into v, failing the test on error. Use it
// with commands run under -o json.
func (r *CommandResult) DecodeJSON(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		t.Fatalf("stdout is not valid JSON: %v\n%s", err, r.Stdout)
	}
}

// WriteFile writes content to name inside dir and returns the full path.
// A dir of "" uses a fresh t.TempDir.
//
// Example:
//
//	cfgPath := cli.WriteFile(t, "", "realitycam.yaml", "store:\n  path: test.db\n")
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
