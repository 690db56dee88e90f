// Package main is the entry point for the live multi-camera correlation
// service: one worker per camera paced by a shared virtual clock, a
// cross-camera identity aggregator, and MJPEG/JSON/WebSocket outputs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CrossTrack-Live/CrossTrack/internal/api"
	"github.com/CrossTrack-Live/CrossTrack/internal/broadcast"
	"github.com/CrossTrack-Live/CrossTrack/internal/bus"
	"github.com/CrossTrack-Live/CrossTrack/internal/clock"
	"github.com/CrossTrack-Live/CrossTrack/internal/config"
	"github.com/CrossTrack-Live/CrossTrack/internal/database"
	"github.com/CrossTrack-Live/CrossTrack/internal/layout"
	"github.com/CrossTrack-Live/CrossTrack/internal/logging"
	"github.com/CrossTrack-Live/CrossTrack/internal/mtmc"
	"github.com/CrossTrack-Live/CrossTrack/internal/render"
	"github.com/CrossTrack-Live/CrossTrack/internal/source"
	"github.com/CrossTrack-Live/CrossTrack/internal/worker"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if env := os.Getenv("CROSSTRACK_CONFIG"); env != "" {
		configPath = env
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logBuffer := logging.NewBuffer(1000)
	setupLogging(cfg, logBuffer)
	slog.Info("Starting correlation core",
		"name", cfg.System.Name,
		"cameras", len(cfg.Cameras),
		"target_fps", cfg.Live.TargetFPS,
		"api_port", cfg.System.APIPort,
		"mjpeg_port", cfg.Live.MJPEGPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and camera registry.
	db, err := database.Open(database.DefaultConfig(cfg.System.DataPath))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	registry := database.NewRegistry(db)
	for _, cam := range cfg.Cameras {
		if err := registry.UpsertCamera(ctx, cam.Name, cam.Source); err != nil {
			slog.Error("Failed to register camera", "camera", cam.Name, "error", err)
			os.Exit(1)
		}
	}

	// Embedded event bus.
	eventBus, err := bus.New(bus.Config{})
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()
	sink := bus.NewSink(eventBus)

	// Camera layout. Required for any cross-camera correlation; a single
	// camera runs without one and every track stays a singleton.
	var lay *layout.Layout
	if cfg.Correlation.CameraLayout != "" {
		lay, err = layout.Load(cfg.Correlation.CameraLayout)
		if err != nil {
			slog.Error("Failed to load camera layout", "path", cfg.Correlation.CameraLayout, "error", err)
			os.Exit(1)
		}
		if lay.NumCameras != len(cfg.Cameras) {
			slog.Error("Camera layout does not match configuration",
				"path", cfg.Correlation.CameraLayout,
				"layout_cameras", lay.NumCameras,
				"configured_cameras", len(cfg.Cameras),
			)
			os.Exit(1)
		}
	}

	linkage, err := mtmc.ParseLinkage(cfg.Correlation.Linkage)
	if err != nil {
		slog.Error("Invalid linkage", "error", err)
		os.Exit(1)
	}

	aggregator := mtmc.New(lay, mtmc.Config{
		MinSimilarity:   cfg.MinSimilarity(),
		Linkage:         linkage,
		MinTrackFrames:  cfg.Correlation.MinTrackFrames,
		ClusterInterval: cfg.ClusterInterval(),
	})
	aggregator.SetEventSink(sink)

	// Frame fan-out.
	broadcaster := broadcast.New(cfg.CameraNames())
	go broadcaster.Run(ctx)

	// Virtual clock.
	clk := clock.New(clock.Config{
		Interval:     cfg.TickInterval(),
		MaxSkew:      cfg.Live.MaxSkewTicks,
		StallTimeout: cfg.StallTimeout(),
	}, cfg.CameraNames())
	clk.SetStallHandler(func(w string) {
		sink.WorkerStalled(w)
		if err := registry.SetStatus(context.Background(), w, database.StatusStalled); err != nil {
			slog.Warn("Failed to record stall", "camera", w, "error", err)
		}
	})
	clk.Start()

	// WebSocket hub fed from the bus.
	hub := api.NewHub()
	go hub.Run()
	if err := api.AttachBus(hub, eventBus); err != nil {
		slog.Error("Failed to attach bus to websocket hub", "error", err)
		os.Exit(1)
	}

	// Camera workers.
	life := &lifecycleRecorder{
		sink:         sink,
		registry:     registry,
		lastProgress: make(map[string]time.Time),
	}
	var wg sync.WaitGroup
	for i, cam := range cfg.Cameras {
		src, err := source.OpenJPEGDir(cam.Source)
		if err != nil {
			slog.Error("Failed to open frame source", "camera", cam.Name, "error", err)
			os.Exit(1)
		}

		w := worker.New(worker.Config{
			CameraID: i,
			Name:     cam.Name,
			Loop:     cfg.Live.LoopVideo,
			Interval: cfg.TickInterval(),
		}, src, worker.NopPipeline{}, &render.Annotator{}, clk, aggregator, broadcaster, life)
		w.SetProgressSink(life)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	// HTTP servers.
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.System.APIPort),
		Handler:      apiRouter(registry, aggregator, clk, hub, logBuffer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// MJPEG connections are long-lived; no write timeout.
	mjpegServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Live.MJPEGPort),
		Handler:     mjpegRouter(broadcaster),
		ReadTimeout: 15 * time.Second,
	}

	for _, srv := range []*http.Server{apiServer, mjpegServer} {
		srv := srv
		go func() {
			slog.Info("Server starting", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Server error", "address", srv.Addr, "error", err)
				cancel()
			}
		}()
	}

	// Live configuration reload. Pacing and clustering parameters are
	// bound at startup; a change on disk is surfaced so operators know a
	// restart is needed.
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch unavailable", "error", err)
	}
	cfg.OnChange(func(c *config.Config) {
		slog.Info("Configuration changed on disk; restart to apply", "path", configPath)
	})

	// Graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	clk.Stop()
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}
	if err := mjpegServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("MJPEG server shutdown error", "error", err)
	}

	slog.Info("Stopped")
}

func setupLogging(cfg *config.Config, buf *logging.Buffer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.System.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var inner slog.Handler
	if strings.ToLower(cfg.System.Logging.Format) == "text" {
		inner = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(logging.NewHandler(buf, inner)))
}

func apiRouter(registry *database.Registry, aggregator *mtmc.Aggregator, clk *clock.Clock, hub *api.Hub, logs *logging.Buffer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	srv := api.NewServer(registry, aggregator, clk, hub).WithLogs(logs)
	r.Mount("/api", srv.Routes())
	return r
}

func mjpegRouter(b *broadcast.Broadcaster) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/streams/", http.StatusFound)
	})
	r.Mount("/streams", b.Routes())
	return r
}

// lifecycleRecorder fans worker lifecycle changes out to the event bus and
// the camera registry. Per-tick progress is persisted at most once per
// second per camera to keep the write rate independent of the frame rate.
type lifecycleRecorder struct {
	sink     *bus.Sink
	registry *database.Registry

	mu           sync.Mutex
	lastProgress map[string]time.Time
}

func (l *lifecycleRecorder) WorkerStarted(name string) {
	l.sink.WorkerStarted(name)
	if err := l.registry.SetStatus(context.Background(), name, database.StatusRunning); err != nil {
		slog.Warn("Failed to record worker start", "camera", name, "error", err)
	}
}

func (l *lifecycleRecorder) WorkerStopped(name, reason string) {
	l.sink.WorkerStopped(name, reason)
	if err := l.registry.SetStatus(context.Background(), name, database.StatusStopped); err != nil {
		slog.Warn("Failed to record worker stop", "camera", name, "error", err)
	}
}

func (l *lifecycleRecorder) WorkerProgress(name string, tick uint64) {
	l.mu.Lock()
	if time.Since(l.lastProgress[name]) < time.Second {
		l.mu.Unlock()
		return
	}
	l.lastProgress[name] = time.Now()
	l.mu.Unlock()

	if err := l.registry.RecordProgress(context.Background(), name, tick); err != nil {
		slog.Warn("Failed to record worker progress", "camera", name, "tick", tick, "error", err)
	}
}
