package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	for i, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpenJPEGDirOrdersFrames(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "frame_0002.jpg", "frame_0001.jpg", "frame_0003.jpeg", "notes.txt")

	src, err := OpenJPEGDir(dir)
	if err != nil {
		t.Fatalf("OpenJPEGDir() error = %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (txt file must be skipped)", src.Len())
	}

	first, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if first.Index != 0 {
		t.Errorf("first frame index = %d, want 0", first.Index)
	}
	// frame_0001.jpg was written second, so its payload is byte 1.
	if len(first.Data) != 1 || first.Data[0] != 1 {
		t.Errorf("first frame should be frame_0001.jpg, got payload %v", first.Data)
	}
}

func TestNextReturnsEOFThenRestarts(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "a.jpg", "b.jpg")

	src, err := OpenJPEGDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := src.Next(); err != nil {
			t.Fatalf("Next() frame %d error = %v", i, err)
		}
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() past end = %v, want io.EOF", err)
	}

	if err := src.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	frame, err := src.Next()
	if err != nil {
		t.Fatalf("Next() after restart error = %v", err)
	}
	if frame.Index != 0 {
		t.Errorf("frame index after restart = %d, want 0", frame.Index)
	}
}

func TestOpenJPEGDirRejectsEmptyDir(t *testing.T) {
	if _, err := OpenJPEGDir(t.TempDir()); err == nil {
		t.Error("expected an error for a directory with no frames")
	}
}

func TestOpenJPEGDirMissingDir(t *testing.T) {
	if _, err := OpenJPEGDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
