package broadcast

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const partBoundary = "frame"

// Routes returns the HTTP surface of the broadcaster: an index page listing
// the camera streams and one MJPEG endpoint per camera.
func (b *Broadcaster) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", b.handleIndex)
	r.Get("/{camera}.mjpg", b.handleStream)
	return r
}

func (b *Broadcaster) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Links are built from the request path so the router works under any
	// mount prefix.
	prefix := strings.TrimSuffix(r.URL.Path, "/")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><head><title>Live streams</title></head><body><h1>Live streams</h1><ul>")
	for _, name := range b.Cameras() {
		safe := html.EscapeString(name)
		fmt.Fprintf(w, `<li><a href="%s/%s.mjpg">%s</a></li>`, prefix, safe, safe)
	}
	fmt.Fprint(w, "</ul></body></html>")
}

// handleStream serves a multipart/x-mixed-replace MJPEG stream for one
// camera. Each connected viewer gets its own read cursor, so a slow client
// simply skips frames instead of delaying anyone else.
func (b *Broadcaster) handleStream(w http.ResponseWriter, r *http.Request) {
	camera := chi.URLParam(r, "camera")
	if b.slot(camera) == nil {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	viewerID := uuid.New().String()
	log := b.logger.With("camera", camera, "viewer_id", viewerID, "remote", r.RemoteAddr)
	log.Info("Viewer connected")
	b.addViewer(camera, 1)
	defer func() {
		b.addViewer(camera, -1)
		log.Info("Viewer disconnected")
	}()

	h := w.Header()
	h.Set("Age", "0")
	h.Set("Cache-Control", "no-cache, private")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+partBoundary)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	var lastSeq uint64
	for {
		frame, seq, ok := b.NextFrame(ctx, camera, lastSeq)
		if !ok {
			return
		}
		lastSeq = seq

		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", partBoundary, len(frame)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
