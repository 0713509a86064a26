package pathsec

import (
	"os"
	"path/filepath"
	"testing"
)

func setupWorkspace(t *testing.T) (string, *Guard) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dir, guard
}

func TestValidReadWithinWorkspace(t *testing.T) {
	_, guard := setupWorkspace(t)
	if _, err := guard.ValidateRead("src/main.go"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTraversalBlockedOnRead(t *testing.T) {
	_, guard := setupWorkspace(t)
	if _, err := guard.ValidateRead("../../etc/passwd"); err == nil {
		t.Error("expected traversal to be blocked")
	}
}

func TestDotDotTraversalBlockedOnWrite(t *testing.T) {
	_, guard := setupWorkspace(t)
	if _, err := guard.ValidateWrite("src/../../etc/passwd.go"); err == nil {
		t.Error("expected traversal to be blocked")
	}
}

func TestValidWriteExistingFile(t *testing.T) {
	_, guard := setupWorkspace(t)
	if _, err := guard.ValidateWrite("src/main.go"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidWriteNewFileInExistingDir(t *testing.T) {
	dir, guard := setupWorkspace(t)
	resolved, err := guard.ValidateWrite("src/new_file.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	canonicalDir, _ := canonicalize(dir)
	if !isWithin(resolved, canonicalDir) {
		t.Errorf("resolved path %q not within workspace %q", resolved, canonicalDir)
	}
}

func TestExtensionBlocked(t *testing.T) {
	_, guard := setupWorkspace(t)
	if _, err := guard.ValidateWrite("src/malware.exe"); err == nil {
		t.Error("expected extension to be blocked")
	}
}

func TestAllowedExtensionsPass(t *testing.T) {
	_, guard := setupWorkspace(t)
	for ext := range AllowedExtensions {
		path := "src/test." + ext
		if _, err := guard.ValidateWrite(path); err != nil {
			t.Errorf("extension %q should be allowed, got %v", ext, err)
		}
	}
}

func TestFileTooLarge(t *testing.T) {
	_, guard := setupWorkspace(t)
	if err := guard.ValidateSize("test.go", MaxWriteSize+1); err == nil {
		t.Error("expected size check to fail")
	}
}

func TestFileWithinLimit(t *testing.T) {
	_, guard := setupWorkspace(t)
	if err := guard.ValidateSize("test.go", MaxWriteSize); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReadRootIsReadable(t *testing.T) {
	dir := t.TempDir()
	readDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(readDir, "lib.go"), []byte("package lib"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := guard.AddReadRoot(readDir); err != nil {
		t.Fatal(err)
	}
	if _, err := guard.ValidateRead("lib.go"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWriteNeverTargetsReadRoot(t *testing.T) {
	dir := t.TempDir()
	readDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "libs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(readDir, "libs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(readDir, "libs", "external.go"), []byte("package libs"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := guard.AddReadRoot(readDir); err != nil {
		t.Fatal(err)
	}

	if _, err := guard.ValidateRead("libs/external.go"); err != nil {
		t.Errorf("expected read from read root to succeed: %v", err)
	}

	resolved, err := guard.ValidateWrite("libs/external.go")
	if err != nil {
		t.Fatalf("expected write in workspace subdirectory to succeed: %v", err)
	}
	canonicalDir, _ := canonicalize(dir)
	if !isWithin(resolved, canonicalDir) {
		t.Errorf("write resolved to %q, want within workspace %q, not the read root", resolved, canonicalDir)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"src/../src/main.go": "src/main.go",
		"./src/main.go":      "src/main.go",
		"src/./main.go":      "src/main.go",
		"a/b/c/../../d":      "a/d",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestInvalidWorkspaceRoot(t *testing.T) {
	if _, err := New("/nonexistent/path/that/does/not/exist"); err == nil {
		t.Error("expected an error for a nonexistent workspace root")
	}
}
