// Package preview serves the frames of the running recording as a Motion
// JPEG stream, so the selection can be checked in a browser tab while it is
// being recorded.
package preview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// Config tunes the preview stream.
type Config struct {
	// FPS caps how many frames per second are encoded.
	FPS     int
	Quality int
	// Label draws the recording time and frame size onto each frame.
	Label bool
}

// DefaultConfig keeps encoding cheap next to a recording.
var DefaultConfig = Config{FPS: 5, Quality: 75, Label: true}

// Stats reports the preview's activity.
type Stats struct {
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	FPS        int       `json:"fps"`
}

// MJPEG encodes at most FPS frames per second and fans them out to
// connected HTTP clients. It implements session.Sink; Finish does not
// disconnect clients, the next recording simply continues the stream.
type MJPEG struct {
	config   Config
	interval time.Duration

	frameMu    sync.RWMutex
	current    []byte
	started    time.Time
	lastUpdate time.Time
	frames     uint64

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// New creates a preview stream.
func New(config Config) *MJPEG {
	if config.FPS <= 0 {
		config.FPS = DefaultConfig.FPS
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultConfig.Quality
	}
	return &MJPEG{
		config:   config,
		interval: time.Second / time.Duration(config.FPS),
		clients:  make(map[chan []byte]struct{}),
	}
}

// WriteFrame encodes f unless the previous frame was encoded less than one
// interval ago.
func (m *MJPEG) WriteFrame(f *capture.CapturedFrame) error {
	m.frameMu.Lock()
	if m.started.IsZero() {
		m.started = time.Now()
	}
	started, last := m.started, m.lastUpdate
	m.frameMu.Unlock()
	if !last.IsZero() && time.Since(last) < m.interval {
		return nil
	}

	img := f.ToRGBA()
	if m.config.Label {
		drawLabel(img, recLabel(time.Since(started), f.Width, f.Height))
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.current = jpegData
	m.lastUpdate = time.Now()
	m.frames++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// Finish resets the recording clock shown by the label.
func (m *MJPEG) Finish() error {
	m.frameMu.Lock()
	m.started = time.Time{}
	m.frameMu.Unlock()
	return nil
}

// Close disconnects every client.
func (m *MJPEG) Close() {
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()
}

// Stats returns the current counters.
func (m *MJPEG) Stats() Stats {
	m.frameMu.RLock()
	st := Stats{Frames: m.frames, LastUpdate: m.lastUpdate, FPS: m.config.FPS}
	m.frameMu.RUnlock()
	m.clientsMu.RLock()
	st.Clients = len(m.clients)
	m.clientsMu.RUnlock()
	return st
}

// StreamHandler serves multipart/x-mixed-replace JPEG frames.
func (m *MJPEG) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("preview")
		log.Debug().Int("clients", clientCount).Msg("Preview client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Debug().Int("clients", clientCount).Msg("Preview client disconnected")
		}()

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// StillHandler serves the most recent frame as a single JPEG.
func (m *MJPEG) StillHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		data := m.current
		m.frameMu.RUnlock()

		if data == nil {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// StatsHandler serves Stats as JSON.
func (m *MJPEG) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}
