package appdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_EnvOverride(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	// Set custom path via env var
	customDir := t.TempDir()
	os.Setenv(AnimusDirEnv, customDir)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if dir != customDir {
		t.Errorf("Dir() = %q, want %q", dir, customDir)
	}
}

func TestDir_DefaultPath(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()
	os.Unsetenv(AnimusDirEnv)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}

	if !strings.Contains(strings.ToLower(dir), "animus") {
		t.Errorf("Dir() = %q, expected path to contain 'animus'", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	// Use temp dir
	tmpDir := filepath.Join(t.TempDir(), "animus-test")
	os.Setenv(AnimusDirEnv, tmpDir)

	// Ensure the directory doesn't exist yet
	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Fatalf("temp dir should not exist initially")
	}

	// Call EnsureDir
	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() failed: %v", err)
	}

	// Verify main directory exists
	info, err := os.Stat(tmpDir)
	if err != nil {
		t.Fatalf("main dir does not exist after EnsureDir(): %v", err)
	}
	if !info.IsDir() {
		t.Error("main path is not a directory")
	}

	// Verify logs subdirectory exists
	logsDir := filepath.Join(tmpDir, LogsDirName)
	info, err = os.Stat(logsDir)
	if err != nil {
		t.Fatalf("logs dir does not exist after EnsureDir(): %v", err)
	}
	if !info.IsDir() {
		t.Error("logs path is not a directory")
	}
}

func TestSettingsPath(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(AnimusDirEnv, customDir)

	settingsPath, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath() failed: %v", err)
	}

	expected := filepath.Join(customDir, SettingsFileName)
	if settingsPath != expected {
		t.Errorf("SettingsPath() = %q, want %q", settingsPath, expected)
	}
}

func TestLogsDir(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(AnimusDirEnv, customDir)

	logsDir, err := LogsDir()
	if err != nil {
		t.Fatalf("LogsDir() failed: %v", err)
	}

	expected := filepath.Join(customDir, LogsDirName)
	if logsDir != expected {
		t.Errorf("LogsDir() = %q, want %q", logsDir, expected)
	}
}

func TestWorkspacesPath(t *testing.T) {
	// Save original value
	original := os.Getenv(AnimusDirEnv)
	defer func() {
		os.Setenv(AnimusDirEnv, original)
		ResetCache()
	}()

	ResetCache()

	customDir := t.TempDir()
	os.Setenv(AnimusDirEnv, customDir)

	workspacesPath, err := WorkspacesPath()
	if err != nil {
		t.Fatalf("WorkspacesPath() failed: %v", err)
	}

	expected := filepath.Join(customDir, WorkspacesFileName)
	if workspacesPath != expected {
		t.Errorf("WorkspacesPath() = %q, want %q", workspacesPath, expected)
	}
}
