package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/utils"
)

// Source loads catalog snapshots from a backing store.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (*Snapshot, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// Static returns a source that always serves the same snapshot.
func Static(s *Snapshot) Source {
	return SourceFunc(func(context.Context) (*Snapshot, error) {
		return s, nil
	})
}

// Embedded returns a source serving the catalog shipped with the binary.
func Embedded() Source {
	return SourceFunc(func(context.Context) (*Snapshot, error) {
		s, err := Default()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
		}
		return s, nil
	})
}

type cachedSnapshot struct {
	snapshot *Snapshot
	loadedAt time.Time
}

// CachedSource serves the last loaded snapshot and reloads it from the
// backing source once the refresh interval has elapsed. When a reload fails
// the previous snapshot keeps being served.
type CachedSource struct {
	source   Source
	interval time.Duration
	current  atomic.Pointer[cachedSnapshot]
	group    singleflight.Group
	now      func() time.Time
	logger   *zap.Logger
}

// NewCachedSource wraps source with a refresh interval. A zero interval
// loads once and never refreshes.
func NewCachedSource(source Source, interval time.Duration) *CachedSource {
	return &CachedSource{
		source:   source,
		interval: interval,
		now:      time.Now,
		logger:   utils.GetLogger().Named("catalog"),
	}
}

// Load returns the cached snapshot, refreshing it when stale.
func (c *CachedSource) Load(ctx context.Context) (*Snapshot, error) {
	cur := c.current.Load()
	if cur != nil && (c.interval <= 0 || c.now().Sub(cur.loadedAt) < c.interval) {
		return cur.snapshot, nil
	}

	snap, err := c.Refresh(ctx)
	if err != nil {
		if cur != nil {
			c.logger.Warn("Catalog refresh failed, serving previous snapshot",
				zap.String("catalog_version", cur.snapshot.Version()),
				zap.Error(err))
			return cur.snapshot, nil
		}
		return nil, err
	}
	return snap, nil
}

// Refresh reloads the snapshot from the backing source.
// Concurrent callers share a single load, which is not bound to any one
// caller's cancellation; each caller stops waiting when its own ctx ends.
func (c *CachedSource) Refresh(ctx context.Context) (*Snapshot, error) {
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("catalog", func() (interface{}, error) {
		snap, err := c.source.Load(loadCtx)
		if err != nil {
			return nil, err
		}
		prev := c.current.Swap(&cachedSnapshot{snapshot: snap, loadedAt: c.now()})
		if prev == nil || prev.snapshot.Version() != snap.Version() {
			c.logger.Info("Catalog snapshot loaded", zap.String("catalog_version", snap.Version()))
		}
		return snap, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", models.ErrCatalogUnavailable, ctx.Err())
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, models.ErrCatalogUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	return v.(*Snapshot), nil
}
