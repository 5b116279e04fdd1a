package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := m.Get()
	if s.FPS != DefaultFPS {
		t.Errorf("FPS = %d, want %d", s.FPS, DefaultFPS)
	}
	if s.Quality != DefaultQuality {
		t.Errorf("Quality = %d, want %d", s.Quality, DefaultQuality)
	}
	if s.ServerPort != DefaultPort {
		t.Errorf("ServerPort = %d, want %d", s.ServerPort, DefaultPort)
	}
	if s.CaptureBackend != "x11" {
		t.Errorf("CaptureBackend = %q, want x11", s.CaptureBackend)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.SetFPS(24)
	m.SetQuality(90)
	m.SetPort(9000)
	m.SetLogLevel("debug")
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager after save: %v", err)
	}
	s := loaded.Get()
	if s.FPS != 24 || s.Quality != 90 || s.ServerPort != 9000 || s.LogLevel != "debug" {
		t.Fatalf("loaded settings = %+v", s)
	}
}

func TestSettersClampOutOfRange(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.SetFPS(0)
	if got := m.FPS(); got != MinFPS {
		t.Errorf("SetFPS(0): FPS = %d, want %d", got, MinFPS)
	}
	m.SetFPS(500)
	if got := m.FPS(); got != MaxFPS {
		t.Errorf("SetFPS(500): FPS = %d, want %d", got, MaxFPS)
	}
	m.SetQuality(-5)
	if got := m.Quality(); got != MinQuality {
		t.Errorf("SetQuality(-5): Quality = %d, want %d", got, MinQuality)
	}
	m.SetQuality(101)
	if got := m.Quality(); got != MaxQuality {
		t.Errorf("SetQuality(101): Quality = %d, want %d", got, MaxQuality)
	}
}

func TestLoadClampsPersistedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "fps: 999\nquality: -1\nserver_port: 8081\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.FPS(); got != MaxFPS {
		t.Errorf("FPS = %d, want %d", got, MaxFPS)
	}
	if got := m.Quality(); got != MinQuality {
		t.Errorf("Quality = %d, want %d", got, MinQuality)
	}
	if got := m.Get().ServerPort; got != 8081 {
		t.Errorf("ServerPort = %d, want 8081", got)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("fps: [not a number"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
