// Package session binds one open book's indexing orchestrator to a navigator
// and turns pages the way a reader host does.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/MeKo-Tech/bubblenav/internal/indexer"
	"github.com/MeKo-Tech/bubblenav/internal/navigation"
	"github.com/google/uuid"
)

// Event types.
const (
	EventProgress   = "progress"
	EventPage       = "page"
	EventNavigation = "navigation"
)

// Event is published to observers of a session.
type Event struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id"`
	BookID    string               `json:"book_id"`
	Page      int                  `json:"page"`
	Done      int                  `json:"done,omitempty"`
	Total     int                  `json:"total,omitempty"`
	Balloons  int                  `json:"balloons,omitempty"`
	Action    string               `json:"action,omitempty"`
	State     *navigation.Snapshot `json:"state,omitempty"`
}

// Input kinds accepted by Apply.
const (
	InputNext      = "next"
	InputPrevious  = "previous"
	InputHide      = "hide"
	InputTap       = "tap"
	InputLongPress = "long_press"
)

// Input is one reader gesture. Coordinates are screen pixels.
type Input struct {
	Kind         string  `json:"action"`
	X            float64 `json:"x,omitempty"`
	Y            float64 `json:"y,omitempty"`
	ScreenWidth  float64 `json:"screen_width,omitempty"`
	ScreenHeight float64 `json:"screen_height,omitempty"`
}

// Result is the outcome of an input after any page turn.
type Result struct {
	Action string              `json:"action"`
	Page   int                 `json:"page"`
	Turned bool                `json:"turned"`
	State  navigation.Snapshot `json:"state"`
}

// ErrUnknownInput is returned for unsupported input kinds.
var ErrUnknownInput = errors.New("unknown input")

// Config configures a session.
type Config struct {
	Indexer    indexer.Config
	Navigation navigation.Config
	// RefreshOnTurn re-detects the current and next page after each page turn.
	RefreshOnTurn bool
	OnEvent       func(Event)
}

// Session is one open book.
type Session struct {
	id   string
	src  book.Source
	orch *indexer.Orchestrator
	nav  *navigation.Navigator
	cfg  Config

	mu   sync.Mutex
	page int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates the orchestrator, loads or starts the book's index and shows the first page.
func Open(ctx context.Context, det detector.Result, store index.Store, src book.Source, cfg Config) (*Session, error) {
	if len(src.Pages()) == 0 {
		return nil, fmt.Errorf("book %s has no pages", src.ID())
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.NewString(),
		src:    src,
		nav:    navigation.New(cfg.Navigation),
		cfg:    cfg,
		ctx:    sctx,
		cancel: cancel,
	}
	orch, err := indexer.New(det, store, src, cfg.Indexer,
		indexer.WithDirection(s.nav.Direction),
		indexer.WithPageListener(s.onPage),
		indexer.WithProgress(indexer.ProgressFunc(func(done, total int) {
			s.emit(Event{Type: EventProgress, Page: -1, Done: done, Total: total})
		})),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	s.orch = orch

	if _, err := orch.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.GoTo(ctx, 0); err != nil {
		s.Close()
		return nil, err
	}
	slog.Info("Session opened", "session", s.id, "book", src.ID(), "pages", len(src.Pages()))
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// BookID returns the open book's ID.
func (s *Session) BookID() string { return s.src.ID() }

// Source returns the page source.
func (s *Session) Source() book.Source { return s.src }

// Orchestrator returns the book's orchestrator.
func (s *Session) Orchestrator() *indexer.Orchestrator { return s.orch }

// Navigator returns the navigator of the displayed page.
func (s *Session) Navigator() *navigation.Navigator { return s.nav }

// Page returns the displayed page number.
func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// PageCount returns the number of pages in the book.
func (s *Session) PageCount() int { return len(s.src.Pages()) }

// SetDirection changes the reading direction for navigation and later detections.
func (s *Session) SetDirection(dir balloon.Direction) { s.nav.SetDirection(dir) }

// GoTo displays a page. The balloon list comes from the page table, or from
// live detection when the page has no result yet.
func (s *Session) GoTo(ctx context.Context, page int) (navigation.Snapshot, error) {
	if page < 0 || page >= s.PageCount() {
		return navigation.Snapshot{}, fmt.Errorf("%w: %d", book.ErrPageNotFound, page)
	}
	pb, known := s.orch.Page(page)
	if !known {
		var err error
		pb, err = s.orch.Detect(ctx, page)
		if err != nil {
			return navigation.Snapshot{}, err
		}
	}
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
	s.nav.SetBalloons(pb)

	if known && s.cfg.RefreshOnTurn {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.orch.Refresh(s.ctx, page); err != nil && !errors.Is(err, context.Canceled) &&
				!errors.Is(err, indexer.ErrClosed) {
				slog.Warn("Refresh failed", "book", s.BookID(), "page", page, "error", err)
			}
		}()
	}
	snap := s.nav.Snapshot()
	s.emit(Event{Type: EventNavigation, Page: page, Action: "goto", State: &snap})
	return snap, nil
}

// Apply runs one input through the navigator and turns the page when asked to.
func (s *Session) Apply(ctx context.Context, in Input) (Result, error) {
	var action navigation.Action
	switch in.Kind {
	case InputNext:
		action = s.nav.Next()
	case InputPrevious:
		action = s.nav.Previous()
	case InputHide:
		action = s.nav.Hide()
	case InputTap:
		action = s.nav.Tap(in.X, in.ScreenWidth)
	case InputLongPress:
		pb := s.nav.Page()
		vp := navigation.FitViewport(pb.PageWidth, pb.PageHeight, in.ScreenWidth, in.ScreenHeight)
		action = s.nav.LongPress(in.X, in.Y, vp)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownInput, in.Kind)
	}
	navigationActions.WithLabelValues(action.String()).Inc()

	res := Result{Action: action.String(), Page: s.Page()}
	target := -1
	switch action {
	case navigation.ActionAdvancePage:
		target = res.Page + 1
	case navigation.ActionRetreatPage:
		target = res.Page - 1
	}
	if target >= 0 && target < s.PageCount() {
		if _, err := s.GoTo(ctx, target); err != nil {
			return res, err
		}
		res.Page = target
		res.Turned = true
	}
	res.State = s.nav.Snapshot()
	s.emit(Event{Type: EventNavigation, Page: res.Page, Action: res.Action, State: &res.State})
	return res, nil
}

// Close stops indexing and refreshes. The source is left open.
func (s *Session) Close() {
	s.cancel()
	if s.orch != nil {
		_ = s.orch.Close()
	}
	s.wg.Wait()
}

// onPage adopts a newly published result for the displayed page while no
// balloon is selected, so an active reading position is never moved.
func (s *Session) onPage(pb balloon.PageBalloons) {
	s.emit(Event{Type: EventPage, Page: pb.PageIndex, Balloons: pb.Len()})
	if pb.PageIndex != s.Page() {
		return
	}
	s.nav.ReplaceIfIdle(pb)
}

func (s *Session) emit(e Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	e.SessionID = s.id
	e.BookID = s.src.ID()
	s.cfg.OnEvent(e)
}
