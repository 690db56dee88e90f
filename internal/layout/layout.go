// Package layout parses the camera layout file and answers the travel-time
// constraint checks that gate cross-camera track association.
package layout

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Window is an allowed travel-time range, in seconds, for an ordered camera
// transition.
type Window struct {
	Min float64
	Max float64
}

// Layout holds inter-camera travel windows plus the per-camera corrections
// (frame rate, clock offset, clock scale) that align raw frame indices to a
// common wall-clock basis. Camera indices follow the declaration order of
// the runtime configuration.
type Layout struct {
	NumCameras int
	FPS        []float64
	Offset     []float64
	Scale      []float64

	windows map[[2]int]Window
}

// Load reads and parses a layout file.
func Load(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera layout: %w", err)
	}
	defer f.Close()

	l, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("camera layout %s: %w", path, err)
	}
	return l, nil
}

// Parse parses the line-oriented layout format:
//
//	<camA> <camB> <minSeconds> <maxSeconds>
//	fps <r0> <r1> ...
//	offset <o0> <o1> ...
//	scale <s0> <s1> ...
//
// Lines starting with # are comments. The fps row is mandatory; offset and
// scale default to 0 and 1 per camera when absent.
func Parse(r io.Reader) (*Layout, error) {
	l := &Layout{windows: make(map[[2]int]Window)}

	type pairLine struct {
		a, b     int
		min, max float64
		lineNo   int
	}
	var pairs []pairLine

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "fps", "offset", "scale":
			vals, err := parseFloats(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s row: %w", lineNo, fields[0], err)
			}
			if len(vals) == 0 {
				return nil, fmt.Errorf("line %d: empty %s row", lineNo, fields[0])
			}
			switch fields[0] {
			case "fps":
				l.FPS = vals
			case "offset":
				l.Offset = vals
			case "scale":
				l.Scale = vals
			}
		default:
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: expected '<camA> <camB> <min> <max>', got %q", lineNo, strings.Join(fields, " "))
			}
			a, err1 := strconv.Atoi(fields[0])
			b, err2 := strconv.Atoi(fields[1])
			min, err3 := strconv.ParseFloat(fields[2], 64)
			max, err4 := strconv.ParseFloat(fields[3], 64)
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
				return nil, fmt.Errorf("line %d: malformed pair constraint", lineNo)
			}
			pairs = append(pairs, pairLine{a: a, b: b, min: min, max: max, lineNo: lineNo})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}

	if len(l.FPS) == 0 {
		return nil, fmt.Errorf("missing fps row")
	}
	l.NumCameras = len(l.FPS)
	for _, r := range l.FPS {
		if r <= 0 {
			return nil, fmt.Errorf("fps values must be positive, got %v", l.FPS)
		}
	}

	if l.Offset == nil {
		l.Offset = make([]float64, l.NumCameras)
	}
	if l.Scale == nil {
		l.Scale = make([]float64, l.NumCameras)
		for i := range l.Scale {
			l.Scale[i] = 1
		}
	}
	if len(l.Offset) != l.NumCameras || len(l.Scale) != l.NumCameras {
		return nil, fmt.Errorf("fps/offset/scale rows have mismatched lengths (%d/%d/%d)",
			len(l.FPS), len(l.Offset), len(l.Scale))
	}
	for i, s := range l.Scale {
		if s == 0 {
			return nil, fmt.Errorf("scale for camera %d is zero", i)
		}
	}

	for _, p := range pairs {
		if p.a < 0 || p.a >= l.NumCameras || p.b < 0 || p.b >= l.NumCameras {
			return nil, fmt.Errorf("line %d: camera index out of range (have %d cameras)", p.lineNo, l.NumCameras)
		}
		if p.a == p.b {
			return nil, fmt.Errorf("line %d: self transition %d -> %d", p.lineNo, p.a, p.b)
		}
		if p.min > p.max {
			return nil, fmt.Errorf("line %d: min travel time %v exceeds max %v", p.lineNo, p.min, p.max)
		}
		l.windows[[2]int{p.a, p.b}] = Window{Min: p.min, Max: p.max}
	}

	return l, nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", f)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// TravelWindow returns the configured travel window for the ordered
// transition a -> b.
func (l *Layout) TravelWindow(a, b int) (Window, bool) {
	w, ok := l.windows[[2]int{a, b}]
	return w, ok
}

// GlobalTime converts a camera-local frame index to seconds on the common
// time base.
func (l *Layout) GlobalTime(cam, frameIdx int) float64 {
	return float64(frameIdx)/l.FPS[cam]/l.Scale[cam] + l.Offset[cam]
}

// Compatible reports whether two track time spans on different cameras admit
// a temporal ordering consistent with some configured travel window: either
// the second span starts within [min,max] seconds after the first ends
// (using the a->b window), or the reverse (using b->a). Spans on the same
// camera are never compatible. Times are on the common base (see
// GlobalTime).
func (l *Layout) Compatible(camA int, startA, endA float64, camB int, startB, endB float64) bool {
	if camA == camB {
		return false
	}
	if w, ok := l.TravelWindow(camA, camB); ok {
		gap := startB - endA
		if gap >= w.Min && gap <= w.Max {
			return true
		}
	}
	if w, ok := l.TravelWindow(camB, camA); ok {
		gap := startA - endB
		if gap >= w.Min && gap <= w.Max {
			return true
		}
	}
	return false
}
