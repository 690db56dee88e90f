// Package source provides frame sources for camera workers. The JPEG
// directory source replays a pre-extracted frame sequence, which is how
// recorded footage is fed through the live pipeline.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CrossTrack-Live/CrossTrack/internal/worker"
)

// JPEGDir reads frames from a directory of JPEG files in lexical filename
// order. It satisfies worker.FrameSource and supports Restart for looping
// playback.
type JPEGDir struct {
	mu    sync.Mutex
	files []string
	pos   int
}

// OpenJPEGDir scans dir for .jpg/.jpeg files. It fails if the directory
// cannot be read or contains no frames, since a camera with an empty source
// would stall its worker immediately.
func OpenJPEGDir(dir string) (*JPEGDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JPEG frames in %s", dir)
	}
	sort.Strings(files)

	return &JPEGDir{files: files}, nil
}

// Next returns the next frame in sequence, or io.EOF past the last one.
func (s *JPEGDir) Next() (worker.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.files) {
		return worker.Frame{}, io.EOF
	}

	data, err := os.ReadFile(s.files[s.pos])
	if err != nil {
		return worker.Frame{}, fmt.Errorf("failed to read frame %s: %w", s.files[s.pos], err)
	}
	frame := worker.Frame{Index: s.pos, Data: data}
	s.pos++
	return frame, nil
}

// Restart rewinds the sequence to the first frame.
func (s *JPEGDir) Restart() error {
	s.mu.Lock()
	s.pos = 0
	s.mu.Unlock()
	return nil
}

// Close releases the source. Nothing is held open between reads.
func (s *JPEGDir) Close() error { return nil }

// Len returns the number of frames in the sequence.
func (s *JPEGDir) Len() int { return len(s.files) }
