// Package integration provides shared helpers for trestle integration
// tests: building the CLI binary once and isolated per-test environments.
package integration

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// trestleBin is the path to the built trestle binary.
	trestleBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot finds the project root by walking up and looking for go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// SetTrestleBin sets the path to the trestle binary (called from TestMain).
func SetTrestleBin(path string) {
	trestleBin = path
}

// SetBuildErr sets the build error (called from TestMain).
func SetBuildErr(err error) {
	buildErr = err
}

// TestEnv provides an isolated test environment with its own config, cache,
// and document directories.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	Cache   string
	Docs    string
}

// NewTestEnv creates a new isolated test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build trestle: %v", buildErr)
	}
	if trestleBin == "" {
		t.Fatal("trestle binary not built (trestleBin is empty)")
	}

	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, "config")
	cacheDir := filepath.Join(tempDir, "cache")
	docsDir := filepath.Join(tempDir, "docs")

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatalf("failed to create docs dir: %v", err)
	}
	configContent := "debounce_ms: 100\nwatch_grace_ms: 200\nrecheck_seconds: 1\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return &TestEnv{
		t:       t,
		TempDir: tempDir,
		Config:  configDir,
		Cache:   cacheDir,
		Docs:    docsDir,
	}
}

// WriteDoc writes a document file into the environment's docs directory and
// returns its path.
func (e *TestEnv) WriteDoc(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.Docs, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// CmdResult holds the result of a trestle command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunTrestle executes the trestle CLI with the given arguments.
func (e *TestEnv) RunTrestle(args ...string) CmdResult {
	e.t.Helper()

	allArgs := append([]string{"--config-dir", e.Config, "--cache-dir", e.Cache}, args...)
	cmd := exec.Command(trestleBin, allArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			e.t.Fatalf("failed to run trestle: %v", err)
		}
	}

	return CmdResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// MustRunTrestle executes the trestle CLI and fails the test on a nonzero
// exit.
func (e *TestEnv) MustRunTrestle(args ...string) CmdResult {
	e.t.Helper()
	result := e.RunTrestle(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("trestle %v exited %d\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}
