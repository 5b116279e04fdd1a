package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/deskcast/deskcast/internal/logger"
)

const (
	DefaultFPS     = 8
	DefaultQuality = 70
	DefaultPort    = 8080

	MinFPS     = 1
	MaxFPS     = 60
	MinQuality = 0
	MaxQuality = 100
)

// Settings is the persisted deskcast configuration. FPS and Quality are
// live-mutable: the capture loop and the MJPEG preview re-read them on every
// cycle, so changes through the API apply without a restart.
type Settings struct {
	FPS            int    `json:"fps" yaml:"fps"`
	Quality        int    `json:"quality" yaml:"quality"`
	ServerPort     int    `json:"server_port" yaml:"server_port"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	CaptureBackend string `json:"capture_backend" yaml:"capture_backend"` // "x11" or "pipewire"
	PipeWireNodeID uint32 `json:"pipewire_node_id" yaml:"pipewire_node_id"`
	StampTimestamp bool   `json:"stamp_timestamp" yaml:"stamp_timestamp"`
}

func defaults() Settings {
	return Settings{
		FPS:            DefaultFPS,
		Quality:        DefaultQuality,
		ServerPort:     DefaultPort,
		LogLevel:       "info",
		CaptureBackend: "x11",
		StampTimestamp: true,
	}
}

// Manager owns the settings and serializes access to them.
type Manager struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewManager loads settings from path, falling back to defaults when the
// file does not exist. An empty path uses the default location under
// ~/.config/deskcast.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "deskcast", "config.yaml")
	}

	m := &Manager{path: path, settings: defaults()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &m.settings); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	m.settings.FPS = clamp(m.settings.FPS, MinFPS, MaxFPS)
	m.settings.Quality = clamp(m.settings.Quality, MinQuality, MaxQuality)
	return m, nil
}

// Save writes the current settings back to the config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.settings)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// FPS returns the current target capture rate.
func (m *Manager) FPS() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.FPS
}

// Quality returns the current encode quality (0-100).
func (m *Manager) Quality() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Quality
}

// SetFPS updates the target capture rate. Out-of-range values are clamped
// to [MinFPS, MaxFPS] with a warning.
func (m *Manager) SetFPS(fps int) {
	clamped := clamp(fps, MinFPS, MaxFPS)
	if clamped != fps {
		logger.WithComponent("config").Warn().
			Int("requested", fps).
			Int("applied", clamped).
			Msg("fps out of range, clamped")
	}
	m.mu.Lock()
	m.settings.FPS = clamped
	m.mu.Unlock()
}

// SetQuality updates the encode quality. Out-of-range values are clamped
// to [MinQuality, MaxQuality] with a warning.
func (m *Manager) SetQuality(quality int) {
	clamped := clamp(quality, MinQuality, MaxQuality)
	if clamped != quality {
		logger.WithComponent("config").Warn().
			Int("requested", quality).
			Int("applied", clamped).
			Msg("quality out of range, clamped")
	}
	m.mu.Lock()
	m.settings.Quality = clamped
	m.mu.Unlock()
}

// SetPort updates the HTTP server port.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.settings.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel updates the log level.
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.settings.LogLevel = level
	m.mu.Unlock()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
