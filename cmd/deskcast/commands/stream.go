package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deskcast/deskcast/internal/api"
	"github.com/deskcast/deskcast/internal/bus"
	"github.com/deskcast/deskcast/internal/capture"
	"github.com/deskcast/deskcast/internal/config"
	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/perf"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the capture side",
	Long: `Start the desktop capture loop and the HTTP API.

Frames are pulled from the configured duplication backend at the target rate
and exposed as an MJPEG preview on /stream. FPS and quality are live-mutable
through PUT /api/settings.`,
	Example: `  # capture the X11 desktop at the configured rate
  deskcast stream

  # capture a PipeWire screencast node at 15 fps
  deskcast stream --backend pipewire --node-id 42 --fps 15`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().Int("fps", 0, "target capture rate (1-60)")
	streamCmd.Flags().Int("quality", 0, "preview JPEG quality (0-100)")
	streamCmd.Flags().String("backend", "", "capture backend (x11, pipewire)")
	streamCmd.Flags().Uint32("node-id", 0, "PipeWire screencast node id")
	viper.BindPFlag("fps", streamCmd.Flags().Lookup("fps"))
	viper.BindPFlag("quality", streamCmd.Flags().Lookup("quality"))
	viper.BindPFlag("capture_backend", streamCmd.Flags().Lookup("backend"))
	viper.BindPFlag("pipewire_node_id", streamCmd.Flags().Lookup("node-id"))

	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if viper.IsSet("fps") && viper.GetInt("fps") > 0 {
		settings.SetFPS(viper.GetInt("fps"))
	}
	if viper.IsSet("quality") && viper.GetInt("quality") > 0 {
		settings.SetQuality(viper.GetInt("quality"))
	}

	cfg := settings.Get()
	log := logger.WithComponent("stream")

	dup, err := newDuplicator(cfg)
	if err != nil {
		return fmt.Errorf("initializing capture backend: %w", err)
	}
	session := capture.NewSession(dup)
	defer session.Close()

	frames := bus.New[capture.Frame]()
	defer frames.Close()

	preview := api.NewPreview(settings.Quality)
	server := api.NewServer(api.Options{
		Settings: settings,
		Preview:  preview,
		Health: func() api.Health {
			return api.Health{
				Running:       true,
				FailureStreak: session.FailureStreak(),
				DeviceLost:    session.DeviceLost(),
			}
		},
	})

	tracker := perf.New(perf.DefaultInterval, func(m perf.Metrics) {
		server.PublishMetrics(m)
		logger.WithComponent("perf").Info().
			Uint64("frames", m.Frames).
			Float64("fps", m.FPS).
			Msg("capture metrics")
	})

	loop := capture.NewLoop(session, settings, frames, capture.LoopOptions{
		Tracker:        tracker,
		StampTimestamp: cfg.StampTimestamp,
	})

	// Feed the preview from the frame bus like any other consumer.
	previewCh := make(chan capture.Frame, 2)
	if err := frames.Subscribe("preview", previewCh); err != nil {
		return err
	}
	go func() {
		for frame := range previewCh {
			if err := preview.WriteFrame(frame.Image); err != nil {
				logger.WithComponent("preview").Warn().Err(err).Msg("writing preview frame")
			}
		}
	}()

	loop.Start()
	defer loop.Stop()

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			logger.WithComponent("api").Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Int("fps", cfg.FPS).
		Str("backend", cfg.CaptureBackend).
		Msg("deskcast stream running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	return nil
}

func newDuplicator(cfg config.Settings) (capture.Duplicator, error) {
	switch cfg.CaptureBackend {
	case "", "x11":
		return capture.NewX11Duplicator()
	case "pipewire":
		if cfg.PipeWireNodeID == 0 {
			return nil, fmt.Errorf("pipewire backend requires a node id")
		}
		// PipeWire negotiates the node's native geometry; the converter
		// pins it to a fixed frame size for the session.
		return capture.NewPipeWireDuplicator(cfg.PipeWireNodeID, 1920, 1080)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.CaptureBackend)
	}
}

func loadSettings() (*config.Manager, error) {
	settings, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if viper.IsSet("server_port") && viper.GetInt("server_port") > 0 {
		settings.SetPort(viper.GetInt("server_port"))
	}
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		settings.SetLogLevel(viper.GetString("log_level"))
	}
	cfg := settings.Get()
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	return settings, nil
}
