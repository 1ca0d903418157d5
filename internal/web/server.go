// Package web serves the dashboard page, its JSON API and a websocket feed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/home-dashboard/internal/gate"
	"github.com/sweeney/home-dashboard/internal/history"
	"github.com/sweeney/home-dashboard/internal/metrics"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/status"
)

// DefaultHistoryLimit is used when /api/history/presence has no limit.
const DefaultHistoryLimit = 50

// Dashboard is what the server needs from the dashboard service.
type Dashboard interface {
	Snapshot() status.Snapshot
	Changed() <-chan struct{}
	ConnectionInfo() presence.ConnectionInfo
	Sensors() *status.SensorsWithConnection
	Status() *status.StatusWithConnection
	ControlLED(ctx context.Context, on bool) gate.Result
	ControlServo(ctx context.Context, angle int) gate.Result
	ControlRGB(ctx context.Context, mode string) gate.Result
	ToggleServo(ctx context.Context) gate.Result
	RefreshWeatherData(ctx context.Context) error
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server serves the dashboard over HTTP.
type Server struct {
	httpServer *http.Server
	dash       Dashboard
	metrics    *metrics.Metrics
	logger     *slog.Logger
	origins    []string

	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments routes and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server backed by dash.
func New(addr string, dash Dashboard, opts ...Option) *Server {
	s := &Server{
		dash:    dash,
		logger:  slog.Default(),
		origins: []string{"*"},
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	s.route(r, "/", s.handleIndex, http.MethodGet)
	s.route(r, "/index.html", s.handleIndex, http.MethodGet)
	s.route(r, "/index.json", s.handleJSON, http.MethodGet)
	s.route(r, "/health", s.handleHealth, http.MethodGet)

	s.route(r, "/api/connection", s.handleConnection, http.MethodGet)
	s.route(r, "/api/sensors", s.handleSensors, http.MethodGet)
	s.route(r, "/api/status", s.handleStatus, http.MethodGet)
	s.route(r, "/api/control/led", s.handleLED, http.MethodPost)
	s.route(r, "/api/control/servo", s.handleServo, http.MethodPost)
	s.route(r, "/api/control/servo/toggle", s.handleServoToggle, http.MethodPost)
	s.route(r, "/api/control/rgb", s.handleRGB, http.MethodPost)
	s.route(r, "/api/weather/refresh", s.handleWeatherRefresh, http.MethodPost)
	s.route(r, "/api/history/presence", s.handleHistory, http.MethodGet)

	// Not wrapped by metrics: the upgrade needs the raw ResponseWriter.
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError)),
	)
	return recovery(handlers.CustomLoggingHandler(io.Discard, cors(r), s.logAccess))
}

func (s *Server) route(r *mux.Router, path string, h http.HandlerFunc, method string) {
	r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(method)
}

func (s *Server) logAccess(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.dash.Snapshot()); err != nil {
		s.logger.Error("render index failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.dash.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.ConnectionInfo())
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors := s.dash.Sensors()
	if sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "no sensor reading yet")
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.dash.Status()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "no device status yet")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type ledRequest struct {
	State *bool `json:"state"`
}

type servoRequest struct {
	Angle *int `json:"angle"`
}

type rgbRequest struct {
	Mode string `json:"mode"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) handleLED(w http.ResponseWriter, r *http.Request) {
	var req ledRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == nil {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}
	writeJSON(w, http.StatusOK, s.dash.ControlLED(r.Context(), *req.State))
}

func (s *Server) handleServo(w http.ResponseWriter, r *http.Request) {
	var req servoRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Angle == nil {
		writeError(w, http.StatusBadRequest, "angle is required")
		return
	}
	if err := gate.Servo(*req.Angle).Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dash.ControlServo(r.Context(), *req.Angle))
}

func (s *Server) handleServoToggle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.ToggleServo(r.Context()))
}

func (s *Server) handleRGB(w http.ResponseWriter, r *http.Request) {
	var req rgbRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gate.RGB(req.Mode).Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dash.ControlRGB(r.Context(), req.Mode))
}

func (s *Server) handleWeatherRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.RefreshWeatherData(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, gate.Result{Success: false, Message: "Failed to refresh weather data"})
		return
	}
	writeJSON(w, http.StatusOK, gate.Result{Success: true, Message: "Weather data refreshed"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.dash.History(r.Context(), limit)
	if err != nil {
		s.logger.Warn("read history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
