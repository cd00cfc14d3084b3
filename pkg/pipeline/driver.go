// Package pipeline drives a full metadata refresh: it fans out to the
// per-source loaders, suppresses change notifications for the duration,
// bumps the response-cache timestamp, and sweeps orphaned media.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opencoursehub/catalog/pkg/cachekeys"
	"github.com/opencoursehub/catalog/pkg/events"
	"github.com/opencoursehub/catalog/pkg/ingest"
	"github.com/opencoursehub/catalog/pkg/store"
)

// DefaultMaxWorkers bounds parallel loader execution.
const DefaultMaxWorkers = 7

// Options configures a refresh.
type Options struct {
	// Parallel runs the post-organization loaders concurrently on a
	// bounded pool instead of sequentially.
	Parallel bool

	// MaxWorkers bounds the pool in parallel mode. Zero means
	// DefaultMaxWorkers.
	MaxWorkers int

	// SweepOrphans removes unreferenced images and videos after the
	// loaders finish.
	SweepOrphans bool
}

// Driver coordinates one partner's refresh.
type Driver struct {
	store  *store.Store
	bus    *events.Bus
	cache  *cachekeys.Service
	opts   Options
	logger *slog.Logger
}

// NewDriver creates a refresh driver.
func NewDriver(s *store.Store, bus *events.Bus, cache *cachekeys.Service, opts Options, logger *slog.Logger) *Driver {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{store: s, bus: bus, cache: cache, opts: opts, logger: logger}
}

// Refresh runs the loaders. The first loader (organizations) completes
// before the rest start, because later loaders resolve organizations by
// key. A loader failure is logged and does not stop the other loaders,
// but the refresh reports overall failure. Cancellation propagates to
// in-flight upstream requests; subscribers are reconnected and the
// timestamp is left unbumped on cancellation.
func (d *Driver) Refresh(ctx context.Context, loaders []ingest.Loader) error {
	if len(loaders) == 0 {
		return nil
	}

	d.bus.Suppress()
	defer d.bus.Resume()

	var (
		mu     sync.Mutex
		failed []string
	)
	record := func(name string, err error) {
		if err == nil {
			return
		}
		d.logger.Error("loader failed", "loader", name, "error", err)
		mu.Lock()
		failed = append(failed, name)
		mu.Unlock()
	}

	first := loaders[0]
	record(first.Name(), first.Load(ctx))
	if err := ctx.Err(); err != nil {
		return err
	}

	rest := loaders[1:]
	if d.opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.MaxWorkers)
		for _, l := range rest {
			g.Go(func() error {
				record(l.Name(), l.Load(gctx))
				// Loader failures are recorded, not propagated, so one
				// failure does not cancel the siblings.
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, l := range rest {
			record(l.Name(), l.Load(ctx))
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ts := d.cache.Bump()
	d.logger.Info("ingest timestamp bumped", "timestamp", ts)

	if d.opts.SweepOrphans {
		d.sweep()
	}

	if len(failed) > 0 {
		return fmt.Errorf("refresh finished with failed loaders: %v", failed)
	}
	return nil
}

// sweep deletes orphaned media inside a transaction. Sweep errors never
// fail the refresh.
func (d *Driver) sweep() {
	err := d.store.Transaction(func(tx *store.Store) error {
		images, err := tx.DeleteOrphanImages()
		if err != nil {
			return err
		}
		videos, err := tx.DeleteOrphanVideos()
		if err != nil {
			return err
		}
		if images > 0 || videos > 0 {
			d.logger.Info("swept orphaned media", "images", images, "videos", videos)
		}
		return nil
	})
	if err != nil {
		d.logger.Error("orphan sweep failed", "error", err)
	}
}
