// Package indexer builds and refreshes a book's balloon index and publishes
// per-page results for display.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
	"github.com/MeKo-Tech/bubblenav/internal/index"
	"github.com/google/uuid"
)

// ErrIndexingInProgress is returned when IndexAll is called while a run is active.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("orchestrator closed")

// ErrDisabled is returned by IndexAll when detection is disabled.
var ErrDisabled = errors.New("balloon detection disabled")

// Config configures an Orchestrator.
type Config struct {
	Direction balloon.Direction
	// AutoIndex starts full indexing from Open when no stored index exists.
	AutoIndex bool
	// Disabled turns detection off: Open ignores the stored index and pages
	// show no balloons.
	Disabled bool
}

// DefaultConfig returns LTR ordering with automatic indexing.
func DefaultConfig() Config {
	return Config{Direction: balloon.LeftToRight, AutoIndex: true}
}

// Status is the host-facing state of the orchestrator.
type Status struct {
	BookID    string `json:"book_id"`
	Available bool   `json:"detector_available"`
	LastError string `json:"last_error,omitempty"`
	Indexed   bool   `json:"indexed"`
	Indexing  bool   `json:"indexing"`
	RunID     string `json:"run_id,omitempty"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Pages     int    `json:"pages_ready"`
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithDirection reads the reading direction from fn at each detection.
func WithDirection(fn func() balloon.Direction) Option {
	return func(o *Orchestrator) { o.direction = fn }
}

// WithProgress sets the full-indexing progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) {
		if cb != nil {
			o.progress = cb
		}
	}
}

// WithPageListener is called after each page result is published.
func WithPageListener(fn func(balloon.PageBalloons)) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, fn) }
}

type entry struct {
	page balloon.PageBalloons
	seq  uint64
}

// Orchestrator drives detection over one book. Page results are published to a
// table in completion order; the persisted index has a single writer.
type Orchestrator struct {
	det       detector.Result
	store     index.Store
	src       book.Source
	config    Config
	direction func() balloon.Direction
	progress  ProgressCallback
	listeners []func(balloon.PageBalloons)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // guards table, seq, busy, status, closed
	table  map[int]entry
	seq    uint64
	busy   map[int]chan struct{}
	status Status
	closed bool

	storeMu   sync.Mutex // serializes index writes
	persisted *balloon.Index
}

// New creates an orchestrator for src. It does not load anything until Open.
func New(det detector.Result, store index.Store, src book.Source, config Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("index store is nil")
	}
	if src == nil {
		return nil, errors.New("book source is nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		det:      det,
		store:    store,
		src:      src,
		config:   config,
		progress: NoOpProgressCallback{},
		ctx:      ctx,
		cancel:   cancel,
		table:    make(map[int]entry),
		busy:     make(map[int]chan struct{}),
	}
	o.direction = func() balloon.Direction { return o.config.Direction }
	for _, opt := range opts {
		opt(o)
	}
	o.status = Status{BookID: src.ID(), Available: det.Available(), Total: len(src.Pages())}
	if err := det.Err(); err != nil {
		o.status.LastError = err.Error()
	}
	return o, nil
}

// BookID returns the source's book ID.
func (o *Orchestrator) BookID() string { return o.src.ID() }

// Open loads the stored index. When there is none and AutoIndex is set, full
// indexing starts in the background. It reports whether a stored index was found.
func (o *Orchestrator) Open(ctx context.Context) (bool, error) {
	if o.isClosed() {
		return false, ErrClosed
	}
	if o.config.Disabled {
		slog.Debug("Detection disabled, stored index not loaded", "book", o.BookID())
		return false, nil
	}
	idx, ok, err := o.store.Load(ctx, o.BookID())
	if err != nil {
		slog.Warn("Failed to load index, treating as absent", "book", o.BookID(), "error", err)
		ok = false
	}
	if ok {
		o.storeMu.Lock()
		o.persisted = idx
		o.storeMu.Unlock()
		o.publishLoaded(idx)
		o.mu.Lock()
		o.status.Indexed = true
		o.mu.Unlock()
		slog.Info("Loaded balloon index", "book", o.BookID(), "pages", idx.Len(), "balloons", idx.BalloonCount())
		return true, nil
	}

	if o.config.AutoIndex && o.det.Available() {
		if err := o.Start(); err != nil && !errors.Is(err, ErrClosed) {
			return false, err
		}
	}
	return false, nil
}

// Start runs IndexAll in the background. Close cancels the run and waits for it.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, err := o.IndexAll(o.ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		case errors.Is(err, ErrIndexingInProgress):
			slog.Debug("Background indexing skipped, run already active", "book", o.BookID())
		default:
			slog.Warn("Background indexing stopped", "book", o.BookID(), "error", err)
		}
	}()
	return nil
}

// Wait blocks until background work started by Open or Start has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// IndexAll detects every page in order and persists the result. Progress is
// reported after each page. On cancellation nothing is persisted; page results
// already published stay visible.
func (o *Orchestrator) IndexAll(ctx context.Context) (*balloon.Index, error) {
	if o.config.Disabled {
		return nil, ErrDisabled
	}
	if !o.det.Available() {
		indexRuns.WithLabelValues("unavailable").Inc()
		return nil, o.det.Err()
	}
	pages := o.src.Pages()
	total := len(pages)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.status.Indexing {
		o.mu.Unlock()
		return nil, ErrIndexingInProgress
	}
	runID := uuid.NewString()
	o.status.Indexing = true
	o.status.RunID = runID
	o.status.Done = 0
	o.status.Total = total
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.status.Indexing = false
		o.mu.Unlock()
	}()

	ctx, stop := o.joinContext(ctx)
	defer stop()

	log := slog.With("book", o.BookID(), "run_id", runID)
	log.Info("Indexing book", "pages", total)
	start := time.Now()
	o.progress.OnStart(total)

	for i, p := range pages {
		if ctx.Err() != nil {
			return nil, o.canceled(log, ctx.Err(), i, total)
		}
		release, err := o.acquire(ctx, p.Number)
		if err != nil {
			return nil, o.canceled(log, ctx.Err(), i, total)
		}
		pb, derr := o.detectPage(ctx, p.Number, sourceIndex)
		release()
		if ctx.Err() != nil {
			return nil, o.canceled(log, ctx.Err(), i, total)
		}
		if derr != nil {
			log.Warn("Page detection failed, recording empty page", "page", p.Number, "error", derr)
			o.progress.OnError(p.Number, derr)
			o.setLastError(derr)
		}
		o.publish(pb)

		o.mu.Lock()
		o.status.Done = i + 1
		o.mu.Unlock()
		o.progress.OnProgress(i+1, total)
	}

	o.storeMu.Lock()
	idx := o.tableIndex()
	if err := o.store.Save(ctx, o.BookID(), idx); err != nil {
		indexSaveErrors.Inc()
		log.Warn("Failed to persist index, keeping it in memory", "error", err)
		o.setLastError(err)
	}
	o.persisted = idx
	o.storeMu.Unlock()

	o.mu.Lock()
	o.status.Indexed = true
	o.mu.Unlock()

	indexRuns.WithLabelValues("completed").Inc()
	log.Info("Indexing completed", "balloons", idx.BalloonCount(), "duration", time.Since(start).Round(time.Millisecond))
	o.progress.OnComplete()
	return idx, nil
}

func (o *Orchestrator) canceled(log *slog.Logger, err error, done, total int) error {
	indexRuns.WithLabelValues("canceled").Inc()
	log.Info("Indexing canceled", "done", done, "total", total)
	if err == nil {
		err = context.Canceled
	}
	return err
}

// Refresh re-detects the current page and the one after it, merging results
// into the stored index. Pages already being processed are skipped. Refresh
// never changes navigation state; hosts observe results through page listeners.
func (o *Orchestrator) Refresh(ctx context.Context, current int) error {
	if o.isClosed() {
		return ErrClosed
	}
	if o.config.Disabled || !o.det.Available() {
		return nil
	}
	ctx, stop := o.joinContext(ctx)
	defer stop()

	count := len(o.src.Pages())
	var wg sync.WaitGroup
	for _, p := range []int{current, current + 1} {
		if p < 0 || p >= count {
			continue
		}
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			o.refreshPage(ctx, page)
		}(p)
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) refreshPage(ctx context.Context, page int) {
	release, ok := o.tryAcquire(page)
	if !ok {
		refreshSkipped.Inc()
		slog.Debug("Refresh skipped, page busy", "book", o.BookID(), "page", page)
		return
	}
	defer release()

	pb, err := o.detectPage(ctx, page, sourceRefresh)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("Refresh detection failed, recording empty page", "book", o.BookID(), "page", page, "error", err)
		o.setLastError(err)
	}
	o.publish(pb)
	o.merge(ctx, pb)
}

// merge writes a page into the stored index. Books without a stored index are
// left for the full indexing run to persist.
func (o *Orchestrator) merge(ctx context.Context, pb balloon.PageBalloons) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()
	if o.persisted == nil {
		return
	}
	o.persisted = index.Merge(o.persisted, pb.PageIndex, pb)
	if err := o.store.Save(ctx, o.BookID(), o.persisted); err != nil {
		indexSaveErrors.Inc()
		slog.Warn("Failed to persist refreshed page, keeping it in memory",
			"book", o.BookID(), "page", pb.PageIndex, "error", err)
		o.setLastError(err)
	}
}

// Detect runs live detection for one page and publishes the result. It does not
// write the stored index.
func (o *Orchestrator) Detect(ctx context.Context, page int) (balloon.PageBalloons, error) {
	if o.isClosed() {
		return balloon.PageBalloons{}, ErrClosed
	}
	ctx, stop := o.joinContext(ctx)
	defer stop()

	pb, err := o.detectPage(ctx, page, sourceLive)
	if ctx.Err() != nil {
		return pb, ctx.Err()
	}
	if errors.Is(err, book.ErrPageNotFound) {
		return pb, err
	}
	if err != nil {
		slog.Warn("Live detection failed, showing no balloons", "book", o.BookID(), "page", page, "error", err)
		o.setLastError(err)
	}
	o.publish(pb)
	return pb, nil
}

// Page returns the most recently completed result for a page.
func (o *Orchestrator) Page(page int) (balloon.PageBalloons, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.table[page]
	return e.page, ok
}

// PageSeq returns the completion sequence number of a page's current result.
func (o *Orchestrator) PageSeq(page int) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.table[page]
	return e.seq, ok
}

// Index returns the stored index as last written, or nil.
func (o *Orchestrator) Index() *balloon.Index {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()
	return o.persisted
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.Pages = len(o.table)
	return s
}

// Close cancels running loops at the next page boundary and waits for
// background work. The detector, store and source stay open.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
	return nil
}

// Disable stops all work and deletes the stored index.
func (o *Orchestrator) Disable(ctx context.Context) error {
	if err := o.Close(); err != nil {
		return err
	}
	o.storeMu.Lock()
	o.persisted = nil
	o.storeMu.Unlock()
	o.mu.Lock()
	o.table = make(map[int]entry)
	o.status.Indexed = false
	o.mu.Unlock()
	if err := o.store.Clear(ctx, o.BookID()); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

// detectPage loads, detects and orders one page. Errors yield an empty page.
func (o *Orchestrator) detectPage(ctx context.Context, page int, source string) (balloon.PageBalloons, error) {
	start := time.Now()
	defer func() { detectionDuration.WithLabelValues(source).Observe(time.Since(start).Seconds()) }()

	empty := balloon.PageBalloons{PageIndex: page, Balloons: []balloon.Balloon{}}
	img, err := o.src.Load(ctx, page)
	if err != nil {
		pagesDetected.WithLabelValues(source, "error").Inc()
		return empty, fmt.Errorf("failed to load page %d: %w", page, err)
	}
	w, h := imageSize(img)
	empty.PageWidth, empty.PageHeight = w, h
	if o.config.Disabled {
		return empty, nil
	}

	res, err := o.det.Detect(ctx, img)
	if err != nil {
		pagesDetected.WithLabelValues(source, "error").Inc()
		return empty, fmt.Errorf("failed to detect page %d: %w", page, err)
	}
	pb := PageFromDetection(page, res, w, h, o.direction())
	pagesDetected.WithLabelValues(source, "ok").Inc()
	balloonsPerPage.Observe(float64(pb.Len()))
	return pb, nil
}

// publish stores a completed page result. Completion order decides the winner.
func (o *Orchestrator) publish(pb balloon.PageBalloons) {
	o.mu.Lock()
	o.seq++
	o.table[pb.PageIndex] = entry{page: pb, seq: o.seq}
	listeners := o.listeners
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(pb)
	}
}

// publishLoaded seeds the table from a stored index without replacing results
// completed in this session.
func (o *Orchestrator) publishLoaded(idx *balloon.Index) {
	o.mu.Lock()
	var added []balloon.PageBalloons
	for _, n := range idx.PageNumbers() {
		if _, ok := o.table[n]; ok {
			continue
		}
		o.seq++
		o.table[n] = entry{page: idx.Pages[n], seq: o.seq}
		added = append(added, idx.Pages[n])
	}
	listeners := o.listeners
	o.mu.Unlock()
	for _, pb := range added {
		for _, fn := range listeners {
			fn(pb)
		}
	}
}

// tableIndex builds an index from the current page table. Callers hold storeMu.
func (o *Orchestrator) tableIndex() *balloon.Index {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := balloon.NewIndex(o.BookID())
	for n, e := range o.table {
		idx.Pages[n] = e.page.Clone()
	}
	return idx
}

// tryAcquire marks a page busy unless it already is.
func (o *Orchestrator) tryAcquire(page int) (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.busy[page]; busy {
		return nil, false
	}
	done := make(chan struct{})
	o.busy[page] = done
	return o.releaser(page, done), true
}

// acquire waits until a page is free and marks it busy.
func (o *Orchestrator) acquire(ctx context.Context, page int) (func(), error) {
	for {
		o.mu.Lock()
		wait, busy := o.busy[page]
		if !busy {
			done := make(chan struct{})
			o.busy[page] = done
			o.mu.Unlock()
			return o.releaser(page, done), nil
		}
		o.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) releaser(page int, done chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.busy, page)
			o.mu.Unlock()
			close(done)
		})
	}
}

// joinContext cancels ctx when the orchestrator closes.
func (o *Orchestrator) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.status.LastError = err.Error()
	o.mu.Unlock()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func imageSize(img image.Image) (int, int) {
	if img == nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
