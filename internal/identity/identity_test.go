package identity_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/snehjoshi/estream/internal/identity"
)

func TestNew_GeneratesIDOnFirstStart(t *testing.T) {
	dir := t.TempDir()

	w, err := identity.New(dir, "auto")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if w.ID().IsZero() {
		t.Fatal("expected non-zero ID")
	}
	if len(w.ID().String()) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(w.ID().String()), w.ID())
	}
}

func TestNew_PersistsIDAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	w1, err := identity.New(dir, "auto")
	if err != nil {
		t.Fatalf("first New() error: %v", err)
	}

	w2, err := identity.New(dir, "auto")
	if err != nil {
		t.Fatalf("second New() error: %v", err)
	}

	if w1.ID() != w2.ID() {
		t.Errorf("ID changed across restarts: %s != %s", w1.ID(), w2.ID())
	}
}

func TestNew_IDStoredInDataDir(t *testing.T) {
	dir := t.TempDir()

	w, err := identity.New(dir, "auto")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "writer_id"))
	if err != nil {
		t.Fatalf("writer_id file not found: %v", err)
	}

	persisted := strings.TrimSpace(string(data))
	if persisted != w.ID().String() {
		t.Errorf("persisted ID %q != returned ID %q", persisted, w.ID())
	}
}

func TestNew_ExplicitOverride(t *testing.T) {
	dir := t.TempDir()
	override := ulid.Make().String()

	w, err := identity.New(dir, override)
	if err != nil {
		t.Fatalf("New() with override error: %v", err)
	}

	if w.ID().String() != override {
		t.Errorf("expected override ID %s, got %s", override, w.ID())
	}
}

func TestNew_InvalidOverride_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	_, err := identity.New(dir, "not-a-valid-ulid")
	if err == nil {
		t.Fatal("expected error for invalid ULID override")
	}
}

func TestNew_EmptyDataDir_ReturnsError(t *testing.T) {
	_, err := identity.New("", "auto")
	if err == nil {
		t.Fatal("expected error for empty dataDir")
	}
}

func TestNew_CreatesDataDirIfAbsent(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "subdir", "data")

	_, err := identity.New(dir, "auto")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("expected data dir to be created")
	}
}

func TestNew_CorruptIDFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	idFile := filepath.Join(dir, "writer_id")
	if err := os.WriteFile(idFile, []byte("garbage-not-a-ulid\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := identity.New(dir, "auto")
	if err == nil {
		t.Fatal("expected error for corrupt writer_id file")
	}
}
