package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CrossTrack-Live/CrossTrack/internal/database"
	"github.com/CrossTrack-Live/CrossTrack/internal/logging"
	"github.com/CrossTrack-Live/CrossTrack/internal/mtmc"
	"github.com/CrossTrack-Live/CrossTrack/internal/track"
)

// CameraStore lists registered cameras. Satisfied by database.Registry.
type CameraStore interface {
	ListCameras(ctx context.Context) ([]database.Camera, error)
}

// ClusterSource exposes the latest published clustering snapshot.
// Satisfied by mtmc.Aggregator.
type ClusterSource interface {
	Current() *mtmc.Snapshot
}

// ClockStatus exposes pacing state. Satisfied by clock.Clock.
type ClockStatus interface {
	Tick() uint64
	ActiveWorkers() []string
}

// Server serves the JSON status API and the WebSocket event stream.
type Server struct {
	cameras  CameraStore
	clusters ClusterSource
	clock    ClockStatus
	hub      *Hub
	logs     *logging.Buffer
	started  time.Time
}

// NewServer wires the status API from its collaborators. hub may be nil if
// the WebSocket stream is not wanted.
func NewServer(cameras CameraStore, clusters ClusterSource, clock ClockStatus, hub *Hub) *Server {
	return &Server{
		cameras:  cameras,
		clusters: clusters,
		clock:    clock,
		hub:      hub,
		started:  time.Now(),
	}
}

// WithLogs attaches a log buffer served at /logs.
func (s *Server) WithLogs(buf *logging.Buffer) *Server {
	s.logs = buf
	return s
}

// Routes returns the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/cameras", s.handleCameras)
	r.Get("/clusters", s.handleClusters)
	if s.logs != nil {
		r.Get("/logs", s.handleLogs)
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}
	return r
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	OK(w, s.logs.Recent(limit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"tick":           s.clock.Tick(),
		"active_workers": s.clock.ActiveWorkers(),
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	OK(w, status)
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	cameras, err := s.cameras.ListCameras(r.Context())
	if err != nil {
		InternalError(w, "failed to list cameras")
		return
	}
	if cameras == nil {
		cameras = []database.Camera{}
	}
	OK(w, cameras)
}

// clusterView is the wire shape of one global cluster.
type clusterView struct {
	GlobalID int          `json:"global_id"`
	Members  []memberView `json:"members"`
}

type memberView struct {
	Camera  int `json:"camera"`
	TrackID int `json:"track_id"`
	Frames  int `json:"frames"`
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	snap := s.clusters.Current()
	if snap == nil {
		OK(w, map[string]any{"pass": 0, "clusters": []clusterView{}})
		return
	}

	views := make([]clusterView, 0, len(snap.Clusters))
	for _, c := range snap.Clusters {
		views = append(views, toClusterView(c))
	}
	OK(w, map[string]any{
		"pass":       snap.Pass,
		"updated_at": snap.At,
		"clusters":   views,
	})
}

func toClusterView(c track.GlobalCluster) clusterView {
	v := clusterView{GlobalID: c.GlobalID, Members: make([]memberView, 0, len(c.Members))}
	for _, m := range c.Members {
		mv := memberView{Camera: m.Camera, TrackID: m.TrackID}
		if m.Track != nil {
			mv.Frames = m.Track.FrameCount()
		}
		v.Members = append(v.Members, mv)
	}
	return v
}
