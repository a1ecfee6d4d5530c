package index

import (
	"context"
	"log/slog"
	"time"
)

// Pruner is implemented by stores that can drop stale indexes.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Retention removes indexes of books not opened within MaxAge. A zero MaxAge keeps everything.
type Retention struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Apply prunes p and returns the removed book keys.
func (r Retention) Apply(ctx context.Context, p Pruner) ([]string, error) {
	if r.MaxAge <= 0 || p == nil {
		return nil, nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().Add(-r.MaxAge)
	removed, err := p.Prune(ctx, cutoff)
	if len(removed) > 0 {
		slog.Info("Pruned stale indexes", "count", len(removed), "max_age", r.MaxAge.String())
	}
	return removed, err
}
