// Package render draws global-identity annotations onto frames. It is the
// trivial built-in renderer; deployments with richer overlays inject their
// own worker.Renderer.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/CrossTrack-Live/CrossTrack/internal/track"
	"github.com/CrossTrack-Live/CrossTrack/internal/worker"
)

// Annotator decodes a JPEG frame, outlines each track's latest bounding box
// in its global identity's color, and re-encodes.
type Annotator struct {
	// Quality is the JPEG encode quality, 1-100. Zero means jpeg default.
	Quality int
}

const borderWidth = 2

// Render implements worker.Renderer.
func (a *Annotator) Render(frame worker.Frame, tracks []*track.LocalTrack, ids track.GlobalIDMap) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", frame.Index, err)
	}

	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, t := range tracks {
		box, ok := latestBox(t)
		if !ok {
			continue
		}
		gid := -1
		if g, ok := ids[t.TrackID]; ok {
			gid = g
		}
		drawRect(img, box, worker.IDColor(gid))
	}

	var buf bytes.Buffer
	var opts *jpeg.Options
	if a.Quality > 0 {
		opts = &jpeg.Options{Quality: a.Quality}
	}
	if err := jpeg.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Index, err)
	}
	return buf.Bytes(), nil
}

func latestBox(t *track.LocalTrack) (track.BoundingBox, bool) {
	if len(t.Boxes) == 0 {
		return track.BoundingBox{}, false
	}
	return t.Boxes[len(t.Boxes)-1], true
}

func drawRect(img *image.RGBA, box track.BoundingBox, c color.RGBA) {
	x, y := int(box.X), int(box.Y)
	r := image.Rect(x, y, x+int(box.Width), y+int(box.Height)).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for w := 0; w < borderWidth; w++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setIfInside(img, x, r.Min.Y+w, c)
			setIfInside(img, x, r.Max.Y-1-w, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIfInside(img, r.Min.X+w, y, c)
			setIfInside(img, r.Max.X-1-w, y, c)
		}
	}
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
