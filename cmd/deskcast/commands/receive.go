package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskcast/deskcast/internal/api"
	"github.com/deskcast/deskcast/internal/bus"
	"github.com/deskcast/deskcast/internal/decode"
	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/perf"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run the decode side",
	Long: `Start the decode pipeline and the HTTP API.

Compressed H.264 packets pushed to /ws/ingest are decoded into images and
exposed as an MJPEG preview on /stream. Mid-stream resolution changes are
followed automatically.`,
	Example: `  # listen for packets on the configured port
  deskcast receive

  # listen on a custom port
  deskcast receive --port 9090`,
	RunE: runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)
}

func runReceive(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	cfg := settings.Get()
	log := logger.WithComponent("receive")

	frames := bus.New[decode.Frame]()
	defer frames.Close()

	var server *api.Server
	tracker := perf.New(perf.DefaultInterval, func(m perf.Metrics) {
		server.PublishMetrics(m)
		logger.WithComponent("perf").Info().
			Uint64("frames", m.Frames).
			Float64("fps", m.FPS).
			Msg("decode metrics")
	})

	session, err := decode.NewSession(decode.Options{
		Frames:  frames,
		Tracker: tracker,
	})
	if err != nil {
		return fmt.Errorf("initializing decoder: %w", err)
	}
	defer session.Close()

	preview := api.NewPreview(settings.Quality)
	server = api.NewServer(api.Options{
		Settings: settings,
		Preview:  preview,
		Decoder:  session,
	})

	previewCh := make(chan decode.Frame, 2)
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

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			logger.WithComponent("api").Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msg("deskcast receive running, awaiting packets on /ws/ingest")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	return nil
}
