package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/wire"
)

// handleIngest accepts a websocket connection from the transport component
// and decodes every packet it pushes. Decoding runs synchronously on the
// read goroutine - there is no dedicated decode thread; the decode session's
// own lock serializes it against any other caller.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("ingest")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Info().Str("remote", r.RemoteAddr).Msg("ingest peer connected")

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("ingest connection lost")
			} else {
				log.Info().Str("remote", r.RemoteAddr).Msg("ingest peer disconnected")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		pkt, err := wire.Unmarshal(msg)
		if err != nil {
			log.Warn().Err(err).Msg("discarding malformed packet")
			continue
		}

		// A nil image with a nil error means the packet produced no
		// picture (reference-only data); that is normal and silent.
		if _, err := s.opts.Decoder.Decode(pkt.Data, int(pkt.Width), int(pkt.Height), int64(pkt.FrameID)); err != nil {
			log.Error().
				Err(err).
				Uint64("frame_id", pkt.FrameID).
				Msg("decode failed, packet abandoned")
		}
	}
}
