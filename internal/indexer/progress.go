package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives full-indexing progress.
type ProgressCallback interface {
	// OnStart is called once with the number of pages.
	OnStart(total int)

	// OnProgress is called after each completed page.
	OnProgress(done, total int)

	// OnComplete is called after the index has been persisted.
	OnComplete()

	// OnError is called for a page that failed and was recorded empty.
	OnError(page int, err error)
}

// NoOpProgressCallback discards progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ProgressFunc adapts a (done, total) function.
type ProgressFunc func(done, total int)

func (f ProgressFunc) OnStart(total int)          { f(0, total) }
func (f ProgressFunc) OnProgress(done, total int) { f(done, total) }
func (ProgressFunc) OnComplete()                  {}
func (ProgressFunc) OnError(int, error)           {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	lastUpdate     time.Time
	updateInterval time.Duration
	mutex          sync.Mutex
	startTime      time.Time
}

// NewConsoleProgressCallback writes to writer, or stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d pages\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(done, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && done < total {
		return
	}
	c.lastUpdate = now
	if total <= 0 {
		return
	}
	filled := c.width * done / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d", c.prefix, bar, done, total)
	if elapsed := now.Sub(c.startTime); elapsed > 0 && done > 0 && done < total {
		eta := time.Duration(float64(elapsed) * float64(total-done) / float64(done))
		status += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(page int, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sPage %d failed: %v\n", c.prefix, page, err)
}

// LogProgressCallback logs progress every interval pages.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs at level through logger, or the default logger when nil.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how many pages pass between log lines.
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	l.interval = interval
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "Indexing started", "pages", total)
}

func (l *LogProgressCallback) OnProgress(done, total int) {
	if done-l.lastLog < l.interval && done != total {
		return
	}
	l.lastLog = done
	l.logger.Log(context.Background(), l.level, "Indexing progress",
		"done", done,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "Indexing completed",
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(page int, err error) {
	l.logger.Log(context.Background(), slog.LevelWarn, "Page detection failed", "page", page, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback combines callbacks; nil entries are dropped.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	m := &MultiProgressCallback{}
	for _, cb := range callbacks {
		m.Add(cb)
	}
	return m
}

// Add appends a callback.
func (m *MultiProgressCallback) Add(cb ProgressCallback) {
	if cb != nil {
		m.callbacks = append(m.callbacks, cb)
	}
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnProgress(done, total int) {
	for _, cb := range m.callbacks {
		cb.OnProgress(done, total)
	}
}

func (m *MultiProgressCallback) OnComplete() {
	for _, cb := range m.callbacks {
		cb.OnComplete()
	}
}

func (m *MultiProgressCallback) OnError(page int, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(page, err)
	}
}
