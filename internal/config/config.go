// Package config provides configuration management for the correlation core
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main runtime configuration
type Config struct {
	Version     string            `yaml:"version"`
	System      SystemConfig      `yaml:"system"`
	Live        LiveConfig        `yaml:"live"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Cameras     []CameraConfig    `yaml:"cameras"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name     string        `yaml:"name"`
	DataPath string        `yaml:"data_path"`
	APIPort  int           `yaml:"api_port"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LiveConfig holds the pacing and streaming settings for the live loop
type LiveConfig struct {
	// TargetFPS is the virtual-clock tick rate in ticks per second.
	TargetFPS float64 `yaml:"target_fps"`
	// MJPEGPort is the port the frame broadcaster listens on.
	MJPEGPort int `yaml:"mjpeg_port"`
	// MaxSkewTicks bounds how far ahead of the slowest live worker any
	// worker may run.
	MaxSkewTicks uint64 `yaml:"max_skew_ticks"`
	// StallSeconds is how long a worker may go silent before it is
	// excluded from skew accounting.
	StallSeconds float64 `yaml:"stall_seconds"`
	// LoopVideo restarts file sources from the beginning at end-of-stream
	// instead of exiting the worker.
	LoopVideo bool `yaml:"loop_video"`
}

// CorrelationConfig holds the cross-camera clustering settings
type CorrelationConfig struct {
	// CameraLayout is the path to the travel-time layout file. Required
	// when more than one camera is configured.
	CameraLayout string `yaml:"camera_layout"`
	// ClusterIntervalSeconds is the minimum time between clustering passes.
	ClusterIntervalSeconds float64 `yaml:"cluster_interval_seconds"`
	// MinTrackFrames drops just-born tracks from clustering.
	MinTrackFrames int `yaml:"min_track_frames"`
	// MinSimilarity is the merge threshold on linkage-computed cosine
	// similarity. Zero means accept every eligible merge; leaving it unset
	// selects the 0.5 default.
	MinSimilarity *float64 `yaml:"min_similarity"`
	// Linkage is one of single, complete, average.
	Linkage string `yaml:"linkage"`
}

// CameraConfig holds configuration for a single camera
type CameraConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "crosstrack"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "/data"
	}
	if c.System.APIPort == 0 {
		c.System.APIPort = 8080
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.Live.TargetFPS == 0 {
		c.Live.TargetFPS = 15
	}
	if c.Live.MJPEGPort == 0 {
		c.Live.MJPEGPort = 8090
	}
	if c.Live.MaxSkewTicks == 0 {
		c.Live.MaxSkewTicks = 5
	}
	if c.Live.StallSeconds == 0 {
		c.Live.StallSeconds = 10
	}
	if c.Correlation.ClusterIntervalSeconds == 0 {
		c.Correlation.ClusterIntervalSeconds = 2
	}
	if c.Correlation.MinTrackFrames == 0 {
		c.Correlation.MinTrackFrames = 5
	}
	if c.Correlation.MinSimilarity == nil {
		v := 0.5
		c.Correlation.MinSimilarity = &v
	}
	if c.Correlation.Linkage == "" {
		c.Correlation.Linkage = "average"
	}
}

// Validate checks the configuration for errors that must stop startup
func (c *Config) Validate() error {
	if c.Live.TargetFPS <= 0 {
		return fmt.Errorf("live.target_fps must be positive, got %v", c.Live.TargetFPS)
	}
	if c.Live.StallSeconds <= 0 {
		return fmt.Errorf("live.stall_seconds must be positive, got %v", c.Live.StallSeconds)
	}
	switch c.Correlation.Linkage {
	case "single", "complete", "average":
	default:
		return fmt.Errorf("correlation.linkage must be single, complete or average, got %q", c.Correlation.Linkage)
	}
	if c.Correlation.ClusterIntervalSeconds <= 0 {
		return fmt.Errorf("correlation.cluster_interval_seconds must be positive, got %v", c.Correlation.ClusterIntervalSeconds)
	}
	if s := *c.Correlation.MinSimilarity; s < -1 || s > 1 {
		return fmt.Errorf("correlation.min_similarity must be within [-1, 1], got %v", s)
	}
	if len(c.Cameras) > 1 && c.Correlation.CameraLayout == "" {
		return fmt.Errorf("correlation.camera_layout is required with %d cameras", len(c.Cameras))
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("cameras[%d]: name is required", i)
		}
		if cam.Source == "" {
			return fmt.Errorf("camera %s: source is required", cam.Name)
		}
		if seen[cam.Name] {
			return fmt.Errorf("duplicate camera name %q", cam.Name)
		}
		seen[cam.Name] = true
	}
	return nil
}

// TickInterval returns the virtual-clock tick interval derived from the
// target frame rate.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Live.TargetFPS)
}

// StallTimeout returns the stall timeout as a duration.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.Live.StallSeconds * float64(time.Second))
}

// MinSimilarity returns the clustering merge threshold.
func (c *Config) MinSimilarity() float64 {
	return *c.Correlation.MinSimilarity
}

// ClusterInterval returns the clustering cadence as a duration.
func (c *Config) ClusterInterval() time.Duration {
	return time.Duration(c.Correlation.ClusterIntervalSeconds * float64(time.Second))
}

// CameraNames returns the configured camera names in declaration order,
// which is also the camera index order used by the layout file.
func (c *Config) CameraNames() []string {
	names := make([]string, len(c.Cameras))
	for i, cam := range c.Cameras {
		names[i] = cam.Name
	}
	return names
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Live = newCfg.Live
	c.Correlation = newCfg.Correlation
	c.Cameras = newCfg.Cameras
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}
