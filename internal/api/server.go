package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/preview"
	"github.com/screen-recorder/screen-recorder/internal/selection"
	"github.com/screen-recorder/screen-recorder/internal/session"
)

// Version is reported by /api/health.
const Version = "0.1.0"

// Server represents the local control API
type Server struct {
	router   *mux.Router
	manager  *session.Manager
	upgrader websocket.Upgrader
	http     *http.Server
	preview  *preview.MJPEG
}

// NewServer creates a new API server
func NewServer(manager *session.Manager) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		manager: manager,
		upgrader: websocket.Upgrader{
			// Only local tools talk to this server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Enumeration
	api.HandleFunc("/monitors", s.handleGetMonitors).Methods("GET")
	api.HandleFunc("/windows", s.handleGetWindows).Methods("GET")

	// Selection
	api.HandleFunc("/selection", s.handleGetSelection).Methods("GET")
	api.HandleFunc("/selection", s.handlePutSelection).Methods("PUT")
	api.HandleFunc("/selection", s.handleDeleteSelection).Methods("DELETE")

	// Recording
	api.HandleFunc("/recording/start", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/recording/stop", s.handleStopRecording).Methods("POST")
	api.HandleFunc("/recording/status", s.handleRecordingStatus).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// SetPreview mounts the live preview of recordings under /api/preview.
// Call it before Start.
func (s *Server) SetPreview(p *preview.MJPEG) {
	s.preview = p
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/preview", p.StreamHandler()).Methods("GET")
	api.HandleFunc("/preview.jpg", p.StillHandler()).Methods("GET")
	api.HandleFunc("/preview/stats", p.StatsHandler()).Methods("GET")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on 127.0.0.1:port and serves until Shutdown.
func (s *Server) Start(port int) error {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Control API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var ce *capture.CaptureError
	switch {
	case errors.Is(err, session.ErrNoSelection), errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNotRecording), errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, capture.ErrCompositorUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &ce):
		switch ce.Kind {
		case capture.KindInvalidRegion:
			return http.StatusBadRequest
		case capture.KindPortalDenied:
			return http.StatusForbidden
		case capture.KindPortalTimeout:
			return http.StatusGatewayTimeout
		case capture.KindNotImplemented:
			return http.StatusNotImplemented
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HTTP Handlers

func (s *Server) handleGetMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.manager.Backend().ListMonitors(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if monitors == nil {
		monitors = []capture.MonitorInfo{}
	}
	writeJSON(w, http.StatusOK, monitors)
}

func (s *Server) handleGetWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.manager.Backend().ListWindows(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if windows == nil {
		windows = []capture.WindowInfo{}
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.manager.Store().Get()
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNoSelection)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// SelectionRequest is the body of PUT /api/selection. Region selections
// carry either Geometry (physical pixels) or Logical (UI pixels, converted
// here using the monitor's scale), never both.
type SelectionRequest struct {
	SourceType capture.SourceType      `json:"source_type"`
	SourceID   string                  `json:"source_id"`
	Geometry   *capture.CaptureRegion  `json:"geometry,omitempty"`
	Logical    *geometry.LogicalRegion `json:"logical,omitempty"`
}

// SelectionResponse echoes the stored selection.
type SelectionResponse struct {
	Selection selection.Selection `json:"selection"`
	Warning   string              `json:"warning,omitempty"`
}

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		sel     selection.Selection
		warning string
	)
	switch req.SourceType {
	case capture.SourceWindow:
		sel = selection.Window(capture.WindowID(req.SourceID))
	case capture.SourceMonitor:
		sel = selection.Monitor(capture.MonitorID(req.SourceID))
	case capture.SourceRegion:
		region, warn, err := s.resolveRegion(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		sel = selection.Region(region)
		warning = warn
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown source type %q", req.SourceType))
		return
	}

	if err := s.manager.Store().Set(sel); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logger.WithComponent("api").Info().
		Str("source_type", string(sel.Type)).
		Str("source_id", sel.SourceID).
		Msg("Selection updated")
	writeJSON(w, http.StatusOK, SelectionResponse{Selection: sel, Warning: warning})
}

// resolveRegion converts and validates a region request against the live
// monitor list. The stored region is the clipped one.
func (s *Server) resolveRegion(ctx context.Context, req SelectionRequest) (capture.CaptureRegion, string, error) {
	if (req.Geometry == nil) == (req.Logical == nil) {
		return capture.CaptureRegion{}, "", capture.NewError(capture.KindInvalidRegion,
			"region selection needs exactly one of geometry or logical", nil)
	}
	monitorID := capture.MonitorID(req.SourceID)
	if monitorID == "" {
		if req.Logical != nil {
			monitorID = req.Logical.MonitorID
		} else {
			monitorID = req.Geometry.MonitorID
		}
	}
	if req.Logical != nil && req.Logical.MonitorID == "" {
		req.Logical.MonitorID = monitorID
	}
	if req.Geometry != nil && req.Geometry.MonitorID == "" {
		req.Geometry.MonitorID = monitorID
	}

	monitors, err := s.manager.Backend().ListMonitors(ctx)
	if err != nil {
		return capture.CaptureRegion{}, "", err
	}
	var mon *capture.MonitorInfo
	for i := range monitors {
		if monitors[i].ID == monitorID {
			mon = &monitors[i]
			break
		}
	}
	if mon == nil {
		return capture.CaptureRegion{}, "", capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("unknown monitor %q", monitorID), nil)
	}

	var physical capture.CaptureRegion
	if req.Logical != nil {
		physical, err = geometry.ToPhysicalOn(*req.Logical, *mon)
		if err != nil {
			return capture.CaptureRegion{}, "", err
		}
	} else {
		physical = *req.Geometry
	}

	res, err := geometry.Validate(physical, *mon, s.manager.Limits())
	if err != nil {
		return capture.CaptureRegion{}, "", err
	}
	var warning string
	if res.Warning {
		warning = fmt.Sprintf("region clipped from %s to %s", res.Requested, res.Region)
	}
	return res.Region, warning, nil
}

func (s *Server) handleDeleteSelection(w http.ResponseWriter, r *http.Request) {
	s.manager.Store().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	// The handshake may outlive the request; only its deadline is kept.
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.manager.Start(ctx); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			writeError(w, statusFor(err), err)
			return
		}
		logger.WithComponent("api").Warn().Err(err).Msg("Recording stopped with error")
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// handleEvents streams session events over a websocket, starting with the
// current status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	events, cancel := s.manager.Subscribe(32)
	defer cancel()

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := s.manager.Status()
	if err := conn.WriteJSON(session.Event{State: st.State, Target: st.Target, Frames: st.Frames, Reason: st.Reason, At: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.WithComponent("api").Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
		"backend": s.manager.Backend().Name(),
	})
}
