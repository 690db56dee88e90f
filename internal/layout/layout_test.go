package layout

import (
	"math"
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	input := `# two-camera hallway
0 1 2.0 10.0
1 0 3.0 12.0
fps 30 15
offset 0 1.5
scale 1 1
`
	l, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if l.NumCameras != 2 {
		t.Errorf("NumCameras = %d, want 2", l.NumCameras)
	}

	w, ok := l.TravelWindow(0, 1)
	if !ok {
		t.Fatalf("TravelWindow(0,1) not found")
	}
	if w.Min != 2.0 || w.Max != 10.0 {
		t.Errorf("TravelWindow(0,1) = %+v, want {2 10}", w)
	}

	if _, ok := l.TravelWindow(1, 0); !ok {
		t.Errorf("TravelWindow(1,0) not found")
	}
	if _, ok := l.TravelWindow(0, 0); ok {
		t.Errorf("TravelWindow(0,0) should not exist")
	}
}

func TestParseDefaults(t *testing.T) {
	l, err := Parse(strings.NewReader("fps 10 20 30\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if l.NumCameras != 3 {
		t.Fatalf("NumCameras = %d, want 3", l.NumCameras)
	}
	for i := 0; i < 3; i++ {
		if l.Offset[i] != 0 {
			t.Errorf("Offset[%d] = %v, want 0", i, l.Offset[i])
		}
		if l.Scale[i] != 1 {
			t.Errorf("Scale[%d] = %v, want 1", i, l.Scale[i])
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing fps", input: "0 1 2.0 10.0\n"},
		{name: "bad pair field count", input: "0 1 2.0\nfps 30 30\n"},
		{name: "non-numeric pair", input: "0 x 2.0 10.0\nfps 30 30\n"},
		{name: "camera out of range", input: "0 5 2.0 10.0\nfps 30 30\n"},
		{name: "self transition", input: "1 1 2.0 10.0\nfps 30 30\n"},
		{name: "min above max", input: "0 1 10.0 2.0\nfps 30 30\n"},
		{name: "zero fps", input: "fps 30 0\n"},
		{name: "zero scale", input: "fps 30 30\nscale 1 0\n"},
		{name: "length mismatch", input: "fps 30 30\noffset 0\n"},
		{name: "empty fps row", input: "fps\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tc.input)); err == nil {
				t.Errorf("Parse() expected error for %q", tc.input)
			}
		})
	}
}

func TestGlobalTime(t *testing.T) {
	l, err := Parse(strings.NewReader("fps 30 10\noffset 0 2.0\nscale 1 0.5\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tests := []struct {
		cam      int
		frame    int
		expected float64
	}{
		{cam: 0, frame: 0, expected: 0},
		{cam: 0, frame: 60, expected: 2.0},
		{cam: 1, frame: 10, expected: 4.0}, // 10/10/0.5 + 2.0
	}

	for _, tc := range tests {
		got := l.GlobalTime(tc.cam, tc.frame)
		if math.Abs(got-tc.expected) > 1e-9 {
			t.Errorf("GlobalTime(%d, %d) = %f, want %f", tc.cam, tc.frame, got, tc.expected)
		}
	}
}

func TestCompatible(t *testing.T) {
	l, err := Parse(strings.NewReader("0 1 2.0 10.0\nfps 30 30\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tests := []struct {
		name         string
		camA         int
		startA, endA float64
		camB         int
		startB, endB float64
		expected     bool
	}{
		{
			// Track on camera 0 ends at 5s, camera 1 track starts at 12s:
			// gap of 7s falls inside [2,10].
			name: "gap within window",
			camA: 0, startA: 0, endA: 5,
			camB: 1, startB: 12, endB: 20,
			expected: true,
		},
		{
			name: "gap beyond window",
			camA: 0, startA: 0, endA: 5,
			camB: 1, startB: 20, endB: 25,
			expected: false,
		},
		{
			name: "gap below window",
			camA: 0, startA: 0, endA: 5,
			camB: 1, startB: 6, endB: 8,
			expected: false,
		},
		{
			// Same spans with arguments swapped: the 0->1 window still
			// applies because Compatible checks both orderings.
			name: "reverse argument order",
			camA: 1, startA: 12, endA: 20,
			camB: 0, startB: 0, endB: 5,
			expected: true,
		},
		{
			name: "same camera never compatible",
			camA: 0, startA: 0, endA: 5,
			camB: 0, startB: 12, endB: 20,
			expected: false,
		},
		{
			// No window configured for the ordering that would match:
			// a track on camera 1 ending before one on camera 0 starts
			// would need a 1->0 window.
			name: "missing directional window",
			camA: 1, startA: 0, endA: 5,
			camB: 0, startB: 12, endB: 20,
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := l.Compatible(tc.camA, tc.startA, tc.endA, tc.camB, tc.startB, tc.endB)
			if got != tc.expected {
				t.Errorf("Compatible() = %v, want %v", got, tc.expected)
			}
		})
	}
}
