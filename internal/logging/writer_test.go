package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func countRotated(t *testing.T, dir, base string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), base+"-") && strings.HasSuffix(e.Name(), ".log") {
			n++
		}
	}
	return n
}

func TestRotatingWriter_CreateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.log")

	rw, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	n, err := rw.Write([]byte("hello\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 6 {
		t.Fatalf("Write returned %d, want 6", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("file content = %q, want %q", string(data), "hello\n")
	}
}

func TestRotatingWriter_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.log")

	rw, err := NewRotatingWriter(path, 0, 3, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	rw.maxBytes = 100 // small limit so the test does not write megabytes
	defer rw.Close()

	data := strings.Repeat("x", 60)
	rw.Write([]byte(data))
	rw.Write([]byte(data)) // pushes past 100 bytes, triggers rotation

	if got := countRotated(t, dir, "relay"); got < 1 {
		t.Errorf("expected at least 1 rotated file, got %d", got)
	}

	// The live file starts over after rotation.
	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(live) != 60 {
		t.Errorf("live file holds %d bytes, want 60", len(live))
	}
}

func TestRotatingWriter_BackupsDistinctWithinSecond(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.log")

	rw, err := NewRotatingWriter(path, 0, 10, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	rw.maxBytes = 50
	defer rw.Close()

	// Three rotations inside one wall-clock second. Millisecond stamps keep
	// the backups from renaming over each other.
	data := strings.Repeat("y", 40)
	for i := 0; i < 4; i++ {
		rw.Write([]byte(data))
		time.Sleep(3 * time.Millisecond)
	}

	if got := countRotated(t, dir, "relay"); got < 3 {
		t.Errorf("expected 3 distinct rotated files, got %d", got)
	}
}

func TestRotatingWriter_MaxBackupsEnforced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.log")

	rw, err := NewRotatingWriter(path, 0, 2, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	rw.maxBytes = 50
	defer rw.Close()

	data := strings.Repeat("y", 40)
	for i := 0; i < 5; i++ {
		rw.Write([]byte(data))
		time.Sleep(3 * time.Millisecond)
	}

	// rotate() prunes in a goroutine; run one synchronous pass so the
	// assertion does not race it.
	rw.cleanup()

	if got := countRotated(t, dir, "relay"); got > 2 {
		t.Errorf("expected at most 2 rotated files (maxBackups=2), got %d", got)
	}
}

func TestRotatingWriter_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "nested", "relay.log")

	rw, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	rw.Write([]byte("test"))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
}
