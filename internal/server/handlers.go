package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/render"
	"github.com/MeKo-Tech/bubblenav/internal/session"
	"github.com/MeKo-Tech/bubblenav/internal/version"
)

const (
	formatJSON    = "json"
	formatOverlay = "overlay"
	formatPopup   = "popup"

	actionGoto = "goto"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:            "healthy",
		Version:           version.Version,
		Time:              time.Now().UTC().Format(time.RFC3339),
		DetectorAvailable: s.det.Available(),
	}
	if err := s.det.Err(); err != nil {
		response.Status = "degraded"
		response.DetectorError = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// booksHandler lists the library.
func (s *Server) booksHandler(w http.ResponseWriter, _ *http.Request) {
	books, err := s.library.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if books == nil {
		books = []BookInfo{}
	}
	writeJSON(w, http.StatusOK, BooksResponse{Books: books, Count: len(books)})
}

// statusHandler reports indexing progress and the reading position.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sess))
}

func statusOf(sess *session.Session) StatusResponse {
	return StatusResponse{
		Index:     sess.Orchestrator().Status(),
		Page:      sess.Page(),
		PageCount: sess.PageCount(),
		Direction: sess.Navigator().Direction().String(),
		State:     sess.Navigator().Snapshot(),
	}
}

// closeBookHandler ends a book's session.
func (s *Server) closeBookHandler(w http.ResponseWriter, r *http.Request) {
	if !s.dropSession(r.PathValue("id")) {
		s.writeErrorResponse(w, "Book is not open", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pageHandler returns a page's balloons as JSON, or a PNG overlay or balloon popup.
// Pages without a result are detected live and not persisted.
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.session(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 0 || page >= sess.PageCount() {
		s.writeErrorResponse(w, "Invalid page number", http.StatusNotFound)
		return
	}

	pb, indexed := sess.Orchestrator().Page(page)
	if !indexed {
		if pb, err = sess.Orchestrator().Detect(ctx, page); err != nil {
			s.writeError(w, err)
			return
		}
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", formatJSON:
		writeJSON(w, http.StatusOK, PageResponse{
			Page:     page,
			Width:    pb.PageWidth,
			Height:   pb.PageHeight,
			Indexed:  indexed,
			Balloons: pb.Balloons,
		})
	case formatOverlay:
		s.writeOverlay(ctx, w, sess, pb)
	case formatPopup:
		s.writePopup(ctx, w, r, sess, pb)
	default:
		s.writeErrorResponse(w, fmt.Sprintf("Unsupported format: %s", format), http.StatusBadRequest)
	}
}

func (s *Server) writeOverlay(ctx context.Context, w http.ResponseWriter, sess *session.Session, pb balloon.PageBalloons) {
	img, err := sess.Source().Load(ctx, pb.PageIndex)
	if err != nil {
		s.writeError(w, err)
		return
	}
	current := -1
	if sess.Page() == pb.PageIndex {
		current = sess.Navigator().Cursor().BalloonIndex
	}
	writePNG(w, render.Overlay(img, pb, current, s.style))
	renderedImages.WithLabelValues(formatOverlay).Inc()
}

func (s *Server) writePopup(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session, pb balloon.PageBalloons) {
	i, err := strconv.Atoi(r.URL.Query().Get("balloon"))
	if err != nil {
		s.writeErrorResponse(w, "Popup requires a balloon index", http.StatusBadRequest)
		return
	}
	b, ok := pb.At(i)
	if !ok {
		s.writeErrorResponse(w, fmt.Sprintf("Page %d has no balloon %d", pb.PageIndex, i), http.StatusNotFound)
		return
	}
	img, err := render.Popup(ctx, sess.Source(), pb.PageIndex, b, s.popup)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writePNG(w, img)
	renderedImages.WithLabelValues(formatPopup).Inc()
}

// navigateHandler applies one reader gesture and returns the navigation result.
func (s *Server) navigateHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := s.session(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.navigate(ctx, sess, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) navigate(ctx context.Context, sess *session.Session, req NavigateRequest) (session.Result, error) {
	if req.Kind != actionGoto {
		return sess.Apply(ctx, req.Input)
	}
	from := sess.Page()
	state, err := sess.GoTo(ctx, req.Page)
	if err != nil {
		return session.Result{}, err
	}
	return session.Result{Action: actionGoto, Page: req.Page, Turned: req.Page != from, State: state}, nil
}

// directionHandler switches the reading direction of an open book.
func (s *Server) directionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	dir, err := balloon.ParseDirection(req.Direction)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.SetDirection(dir)
	writeJSON(w, http.StatusOK, statusOf(sess))
}

// indexHandler starts full indexing in the background. It re-enables detection
// for a book disabled through disableHandler.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	if !s.det.Available() {
		s.writeError(w, s.det.Err())
		return
	}
	id := r.PathValue("id")
	if s.setDisabled(id, false) {
		s.dropSession(id)
	}
	sess, err := s.session(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st := sess.Orchestrator().Status()
	if st.Indexing {
		s.writeError(w, indexer.ErrIndexingInProgress)
		return
	}
	if err := sess.Orchestrator().Start(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Orchestrator().Status())
}

// disableHandler turns detection off for a book and deletes its stored index.
// The book stays without balloons until indexHandler is called for it.
func (s *Server) disableHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.setDisabled(id, true)
	sess, err := s.session(r.Context(), id)
	if err != nil {
		s.setDisabled(id, false)
		s.writeError(w, err)
		return
	}
	if err := sess.Orchestrator().Disable(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.dropSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// refreshHandler re-detects a page and the one after it.
func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.session(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	page := sess.Page()
	if v := r.URL.Query().Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 0 || page >= sess.PageCount() {
			s.writeErrorResponse(w, "Invalid page number", http.StatusBadRequest)
			return
		}
	}
	if err := sess.Orchestrator().Refresh(ctx, page); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Orchestrator().Status())
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownBook), errors.Is(err, book.ErrPageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrUnknownInput):
		status = http.StatusBadRequest
	case errors.Is(err, detector.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, indexer.ErrIndexingInProgress), errors.Is(err, indexer.ErrClosed):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	s.writeErrorResponse(w, err.Error(), status)
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		slog.Error("Failed to encode PNG response", "error", err)
	}
}
