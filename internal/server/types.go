package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/navigation"
	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/MeKo-Tech/bubblenav/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	det        detector.Result
	store      index.Store
	library    Library
	sessionCfg session.Config
	style      render.Style
	popup      render.PopupOptions
	corsOrigin string
	timeoutSec int
	hub        *Hub

	mu       sync.Mutex
	sessions map[string]*session.Session
	disabled map[string]bool // books with detection turned off until re-indexed
}

// Config holds server configuration.
type Config struct {
	Host          string
	Port          int
	CORSOrigin    string
	TimeoutSec    int
	Detector      detector.Result
	Store         index.Store
	Library       Library
	Indexer       indexer.Config
	Navigation    navigation.Config
	RefreshOnTurn bool
	Style         render.Style
	Popup         render.PopupOptions
}

// Response types for API endpoints.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	Time              string `json:"time"`
	DetectorAvailable bool   `json:"detector_available"`
	DetectorError     string `json:"detector_error,omitempty"`
}

type BooksResponse struct {
	Books []BookInfo `json:"books"`
	Count int        `json:"count"`
}

type StatusResponse struct {
	Index     indexer.Status      `json:"index"`
	Page      int                 `json:"page"`
	PageCount int                 `json:"page_count"`
	Direction string              `json:"direction"`
	State     navigation.Snapshot `json:"state"`
}

type PageResponse struct {
	Page     int               `json:"page"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Indexed  bool              `json:"indexed"`
	Balloons []balloon.Balloon `json:"balloons"`
}

type NavigateRequest struct {
	session.Input
	// Page is the target of the "goto" action.
	Page int `json:"page,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a new server over a library of books.
func NewServer(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("server requires an index store")
	}
	if config.Library == nil {
		return nil, errors.New("server requires a library")
	}
	if config.Navigation.Clock == nil {
		config.Navigation.Clock = navigation.SystemClock{}
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	if config.Style == (render.Style{}) {
		config.Style = render.DefaultStyle()
	}

	s := &Server{
		det:     config.Detector,
		store:   config.Store,
		library: config.Library,
		sessionCfg: session.Config{
			Indexer:       config.Indexer,
			Navigation:    config.Navigation,
			RefreshOnTurn: config.RefreshOnTurn,
		},
		style:      config.Style,
		popup:      config.Popup,
		corsOrigin: config.CORSOrigin,
		timeoutSec: config.TimeoutSec,
		hub:        NewHub(),
		sessions:   make(map[string]*session.Session),
		disabled:   make(map[string]bool),
	}
	s.sessionCfg.OnEvent = s.hub.Broadcast
	return s, nil
}

// Close closes every open book, the websocket hub and the detector.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		errs = append(errs, s.closeSession(sess))
	}
	s.hub.Close()
	errs = append(errs, s.det.Close())
	return errors.Join(errs...)
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.eventsWebSocketHandler)

	mux.HandleFunc("GET /books", s.corsMiddleware(s.booksHandler))
	mux.HandleFunc("GET /books/{id}/status", s.corsMiddleware(s.statusHandler))
	mux.HandleFunc("DELETE /books/{id}", s.corsMiddleware(s.closeBookHandler))
	mux.HandleFunc("GET /books/{id}/pages/{page}", s.corsMiddleware(s.pageHandler))
	mux.HandleFunc("POST /books/{id}/navigate", s.corsMiddleware(s.navigateHandler))
	mux.HandleFunc("PUT /books/{id}/direction", s.corsMiddleware(s.directionHandler))
	mux.HandleFunc("POST /books/{id}/index", s.corsMiddleware(s.indexHandler))
	mux.HandleFunc("DELETE /books/{id}/index", s.corsMiddleware(s.disableHandler))
	mux.HandleFunc("POST /books/{id}/refresh", s.corsMiddleware(s.refreshHandler))
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}

// session returns the open session for a book, opening it on first use.
func (s *Server) session(ctx context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	src, err := s.library.Open(id)
	if err != nil {
		return nil, err
	}
	cfg := s.sessionCfg
	if s.disabled[id] {
		cfg.Indexer.AutoIndex = false
		cfg.Indexer.Disabled = true
		cfg.RefreshOnTurn = false
	}
	sess, err := session.Open(ctx, s.det, s.store, src, cfg)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to open book %s: %w", id, err)
	}
	s.sessions[id] = sess
	openSessions.Inc()
	return sess, nil
}

// setDisabled records whether detection is off for a book. It reports whether
// the state changed.
func (s *Server) setDisabled(id string, off bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled[id] == off {
		return false
	}
	if off {
		s.disabled[id] = true
	} else {
		delete(s.disabled, id)
	}
	return true
}

// dropSession closes and forgets a book's session. It reports whether one was open.
func (s *Server) dropSession(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		if err := s.closeSession(sess); err != nil {
			slog.Warn("Failed to close book", "book", id, "error", err)
		}
	}
	return ok
}

func (s *Server) closeSession(sess *session.Session) error {
	sess.Close()
	openSessions.Dec()
	return sess.Source().Close()
}

// requestContext bounds a handler's work by the configured timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
}

func contextWithTimeout(sec int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(sec)*time.Second)
}
