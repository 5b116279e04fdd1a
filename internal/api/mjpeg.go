package api

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/deskcast/deskcast/internal/logger"
)

// Preview fans frames out to HTTP clients as an MJPEG stream. It exists for
// eyeballing either pipeline: the stream side feeds it captured frames, the
// receive side feeds it decoded ones. Slow clients skip frames rather than
// backing up the writer.
type Preview struct {
	// quality supplies the live JPEG quality setting.
	quality func() int

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewPreview creates a preview whose JPEG quality is re-read per frame.
func NewPreview(quality func() int) *Preview {
	return &Preview{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// WriteFrame encodes and broadcasts one frame to every connected client.
func (p *Preview) WriteFrame(frame *image.RGBA) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: p.quality()}); err != nil {
		return fmt.Errorf("encoding preview jpeg: %w", err)
	}
	data := buf.Bytes()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.clients {
		select {
		case ch <- data:
		default:
			// Client is behind; this frame is lost to it.
		}
	}
	return nil
}

// ClientCount returns the number of connected preview clients.
func (p *Preview) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// ServeHTTP streams multipart JPEG frames until the client disconnects.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")

	frameChan := make(chan []byte, 2)
	p.mu.Lock()
	p.clients[frameChan] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.clients, frameChan)
		p.mu.Unlock()
	}()

	log := logger.WithComponent("preview")
	log.Debug().Str("remote", r.RemoteAddr).Msg("preview client connected")

	flusher, canFlush := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("remote", r.RemoteAddr).Msg("preview client disconnected")
			return
		case data := <-frameChan:
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}
