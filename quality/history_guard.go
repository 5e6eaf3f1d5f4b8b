package quality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/liamcoop/dataquality/internal/metrics"
)

// guardedHistory caps in-flight lookups and bounds each one with a timeout.
// The timeout holds even for implementations that ignore ctx.
type guardedHistory struct {
	next    HistoryPort
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newGuardedHistory(next HistoryPort, maxInFlight int, timeout time.Duration) *guardedHistory {
	g := &guardedHistory{next: next, timeout: timeout}
	if maxInFlight > 0 {
		g.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return g
}

type getResult struct {
	value float64
	ok    bool
	err   error
}

func (g *guardedHistory) Get(ctx context.Context, companyID int, field string, period int) (float64, bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.acquire(ctx); err != nil {
		metrics.RecordHistoryLookup("get", resultLabel(err))
		return 0, false, err
	}

	ch := make(chan getResult, 1)
	go func() {
		defer g.release()
		v, ok, err := g.next.Get(ctx, companyID, field, period)
		ch <- getResult{v, ok, err}
	}()

	select {
	case r := <-ch:
		switch {
		case r.err != nil:
			metrics.RecordHistoryLookup("get", resultLabel(r.err))
		case r.ok:
			metrics.RecordHistoryLookup("get", "hit")
		default:
			metrics.RecordHistoryLookup("get", "miss")
		}
		return r.value, r.ok, r.err
	case <-ctx.Done():
		metrics.RecordHistoryLookup("get", resultLabel(ctx.Err()))
		return 0, false, fmt.Errorf("history get %s period %d: %w", field, period, ctx.Err())
	}
}

type seriesResult struct {
	points []HistoryPoint
	err    error
}

func (g *guardedHistory) Series(ctx context.Context, companyID int, field string) ([]HistoryPoint, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.acquire(ctx); err != nil {
		metrics.RecordHistoryLookup("series", resultLabel(err))
		return nil, err
	}

	ch := make(chan seriesResult, 1)
	go func() {
		defer g.release()
		points, err := g.next.Series(ctx, companyID, field)
		ch <- seriesResult{points, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			metrics.RecordHistoryLookup("series", resultLabel(r.err))
		} else {
			metrics.RecordHistoryLookup("series", "hit")
		}
		return r.points, r.err
	case <-ctx.Done():
		metrics.RecordHistoryLookup("series", resultLabel(ctx.Err()))
		return nil, fmt.Errorf("history series %s: %w", field, ctx.Err())
	}
}

func (g *guardedHistory) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func (g *guardedHistory) acquire(ctx context.Context) error {
	if g.sem == nil {
		return nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for history slot: %w", err)
	}
	return nil
}

func (g *guardedHistory) release() {
	if g.sem != nil {
		g.sem.Release(1)
	}
}

func resultLabel(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
