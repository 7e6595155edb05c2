package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestRun_CapturesStdout(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures stdout from command")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("hello world")
		},
	}

	result := Run(cmd)
	result.AssertSuccess(t)

	if result.Stdout != "hello world\n" {
		t.Errorf("expected stdout 'hello world\\n', got %q", result.Stdout)
	}
}

func TestRun_CapturesStderr(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures stderr from command")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.PrintErrln("error message")
		},
	}

	result := Run(cmd)
	result.AssertSuccess(t)

	if result.Stderr != "error message\n" {
		t.Errorf("expected stderr 'error message\\n', got %q", result.Stderr)
	}
}

func TestRun_CapturesError(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures command errors")

	cmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("command failed")
		},
	}

	result := Run(cmd)
	result.AssertError(t)

	if result.Err == nil || result.Err.Error() != "command failed" {
		t.Errorf("expected error 'command failed', got %v", result.Err)
	}
}

func TestRun_PassesArguments(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run passes arguments to command")

	var receivedArgs []string
	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			receivedArgs = args
			cmd.Printf("args: %v", args)
		},
	}

	result := Run(cmd, "arg1", "arg2", "arg3")
	result.AssertSuccess(t)

	if len(receivedArgs) != 3 {
		t.Errorf("expected 3 args, got %d", len(receivedArgs))
	}
	if receivedArgs[0] != "arg1" || receivedArgs[1] != "arg2" || receivedArgs[2] != "arg3" {
		t.Errorf("expected args [arg1 arg2 arg3], got %v", receivedArgs)
	}
}

func TestReset_RestoresFlagDefaults(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Reset returns flags on nested commands to their defaults")

	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().StringP("output", "o", "table", "")
	child := &cobra.Command{
		Use: "child",
		Run: func(cmd *cobra.Command, args []string) {
			out, _ := cmd.Flags().GetString("output")
			limit, _ := cmd.Flags().GetInt("limit")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			cmd.Printf("output=%s limit=%d tags=%d", out, limit, len(tags))
		},
	}
	child.Flags().Int("limit", 20, "")
	child.Flags().StringSlice("tag", nil, "")
	root.AddCommand(child)

	first := Run(root, "child", "-o", "json", "--limit", "5", "--tag", "a", "--tag", "b")
	first.AssertSuccess(t)
	first.AssertContains(t, "output=json limit=5 tags=2")

	second := Reset(root).Run("child")
	second.AssertSuccess(t)
	second.AssertContains(t, "output=table limit=20 tags=0")
	if child.Flags().Changed("limit") {
		t.Error("expected limit flag to be marked unchanged after Reset")
	}
}

func TestAssertSuccess_PassesOnSuccess(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertSuccess passes when command succeeds")

	result := &CommandResult{
		Stdout: "output",
		Err:    nil,
	}

	// This should not fail
	result.AssertSuccess(t)
}

func TestAssertError_PassesOnError(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertError passes when command fails")

	result := &CommandResult{
		Err: errors.New("some error"),
	}

	// This should not fail
	result.AssertError(t)
}

func TestAssertContains_PassesWhenFound(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertContains passes when string is found")

	result := &CommandResult{
		Stdout: "hello world version 1.0",
	}

	result.AssertContains(t, "version")
	result.AssertContains(t, "hello")
	result.AssertContains(t, "1.0")
}

func TestAssertNotContains_PassesWhenNotFound(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertNotContains passes when string is not found")

	result := &CommandResult{
		Stdout: "hello world",
	}

	result.AssertNotContains(t, "goodbye")
	result.AssertNotContains(t, "version")
}

func TestAssertPrefix_PassesWithCorrectPrefix(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertPrefix passes when prefix matches")

	result := &CommandResult{
		Stdout: "realitycam version v1.0.0\n",
	}

	result.AssertPrefix(t, "realitycam version")
}

func TestAssertPrefix_TrimsWhitespace(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertPrefix trims whitespace before checking")

	result := &CommandResult{
		Stdout: "  \n  realitycam version v1.0.0\n",
	}

	result.AssertPrefix(t, "realitycam version")
}

func TestAssertExact_PassesWithExactMatch(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertExact passes with exact match")

	result := &CommandResult{
		Stdout: "exact output\n",
	}

	result.AssertExact(t, "exact output\n")
}

func TestAssertStderrContains_PassesWhenFound(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertStderrContains passes when string is in stderr")

	result := &CommandResult{
		Stderr: "Warning: deprecated flag",
	}

	result.AssertStderrContains(t, "deprecated")
}

func TestWriteFile_CreatesNestedPath(t *testing.T) {
	t.Parallel()
	t.Log("Testing that WriteFile creates parent directories and writes content")

	dir := t.TempDir()
	path := WriteFile(t, dir, filepath.Join("keys", "device.pem"), []byte("pem"))

	if path != filepath.Join(dir, "keys", "device.pem") {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if string(data) != "pem" {
		t.Errorf("expected content 'pem', got %q", data)
	}
}

func TestWriteFile_DefaultsToTempDir(t *testing.T) {
	t.Parallel()

	path := WriteFile(t, "", "realitycam.yaml", []byte("store: {}\n"))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestDecodeJSON_ParsesStdout(t *testing.T) {
	t.Parallel()

	result := &CommandResult{Stdout: `{"id":"dev-1","counter":3}` + "\n"}
	var view struct {
		ID      string `json:"id"`
		Counter int    `json:"counter"`
	}
	result.DecodeJSON(t, &view)
	if view.ID != "dev-1" || view.Counter != 3 {
		t.Errorf("unexpected decode %+v", view)
	}
}

func TestAssertErrorContains_MatchesMessage(t *testing.T) {
	t.Parallel()

	result := &CommandResult{Err: errors.New("device dev-9 not found")}
	result.AssertErrorContains(t, "not found")
}

func TestRun_WithFlags(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run works with command flags")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				cmd.Println("verbose mode")
			} else {
				cmd.Println("normal mode")
			}
		},
	}
	cmd.Flags().Bool("verbose", false, "verbose output")

	// Test without flag
	result := Run(cmd)
	result.AssertSuccess(t)
	result.AssertContains(t, "normal mode")

	// Test with flag
	result = Run(cmd, "--verbose")
	result.AssertSuccess(t)
	result.AssertContains(t, "verbose mode")
}

func TestRun_WithSubcommands(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run works with subcommands")

	rootCmd := &cobra.Command{
		Use: "root",
	}
	subCmd := &cobra.Command{
		Use: "sub",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("subcommand executed")
		},
	}
	rootCmd.AddCommand(subCmd)

	result := Run(rootCmd, "sub")
	result.AssertSuccess(t)
	result.AssertContains(t, "subcommand executed")
}
