// Package service provides the business logic layer (use cases).
// Feed keeps the latest study snapshot in step with backend change
// notifications; the other services read from it.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/kpi"
	"github.com/boddenberg/etudes-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var feedTracer = otel.Tracer("service/feed")

const (
	snapshotKey    = "studies"
	refreshTimeout = 30 * time.Second
)

// StudySource yields the current study snapshot. Feed implements it.
type StudySource interface {
	Snapshot(ctx context.Context) ([]domain.Study, error)
	Invalidate()
}

// Feed fetches the full study list on start and again after every change
// notification. Concurrent fetches of the same generation are coalesced,
// and a fetch superseded by a newer published one is discarded.
//
// Snapshots handed out are shared and must not be modified.
type Feed struct {
	source  port.StudyLister
	cache   port.Cache[[]domain.Study]
	clock   kpi.Clock
	metrics *observability.Metrics
	logger  *zap.Logger

	pollInterval time.Duration

	group singleflight.Group
	wg    sync.WaitGroup

	mu           sync.Mutex
	gen          uint64 // bumped by Invalidate
	publishedGen uint64
	latest       []domain.Study
	ready        bool
	closing      bool

	listenMu  sync.RWMutex
	listeners map[int]func([]domain.Study)
	nextID    int
}

// NewFeed creates a feed reading from source.
func NewFeed(source port.StudyLister, cache port.Cache[[]domain.Study], clock kpi.Clock, metrics *observability.Metrics, logger *zap.Logger) *Feed {
	if clock == nil {
		clock = time.Now
	}
	return &Feed{
		source:    source,
		cache:     cache,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		listeners: make(map[int]func([]domain.Study)),
	}
}

// WithPolling makes Run refresh every d when no change subscription is
// available.
func (f *Feed) WithPolling(d time.Duration) *Feed {
	f.pollInterval = d
	return f
}

// Run performs the initial fetch, subscribes to changes and blocks until
// ctx is done. A failed subscription degrades to polling. On return no
// refresh is left running.
func (f *Feed) Run(ctx context.Context, changes port.ChangeSubscriber) error {
	if _, err := f.Refresh(ctx); err != nil {
		f.logger.Warn("feed: initial fetch failed", zap.Error(err))
	}

	var poll <-chan time.Time
	unsubscribe := func() {}
	subscribed := false
	if changes != nil {
		unsub, err := changes.Subscribe(ctx, f.Invalidate)
		if err != nil {
			f.logger.Warn("feed: change subscription failed, polling instead", zap.Error(err))
		} else {
			subscribed = true
			unsubscribe = unsub
		}
	}
	if !subscribed && f.pollInterval > 0 {
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	f.logger.Info("feed: running", zap.Bool("subscribed", subscribed), zap.Duration("poll_interval", f.pollInterval))

	for {
		select {
		case <-ctx.Done():
			unsubscribe()
			f.Close()
			return nil
		case <-poll:
			f.Invalidate()
		}
	}
}

// Close stops background refreshes and waits for those in flight.
// Invalidate still drops the cached snapshot afterwards.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closing = true
	f.mu.Unlock()
	f.wg.Wait()
}

// Snapshot returns the latest studies, fetching once if none is cached.
func (f *Feed) Snapshot(ctx context.Context) ([]domain.Study, error) {
	if rows, ok := f.cache.Get(snapshotKey); ok {
		f.metrics.IncrCacheHit(snapshotKey)
		return rows, nil
	}
	f.metrics.IncrCacheMiss(snapshotKey)
	return f.Refresh(ctx)
}

// Refresh fetches the study list now. Callers racing on the same
// generation share one backend call, which keeps running when the caller
// that started it gives up.
func (f *Feed) Refresh(ctx context.Context) ([]domain.Study, error) {
	ctx, span := feedTracer.Start(ctx, "Feed.Refresh")
	defer span.End()

	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()
	span.SetAttributes(attribute.Int64("feed.generation", int64(gen)))

	ch := f.group.DoChan(fmt.Sprintf("studies:%d", gen), func() (any, error) {
		// The fetch outlives the caller that started it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		start := time.Now()
		rows, err := f.source.ListStudies(fetchCtx)
		f.metrics.RecordRequestDuration("feed_refresh", time.Since(start))
		if err != nil {
			f.metrics.IncrFeedRefresh(observability.RefreshError)
			f.metrics.IncrExternalError("studies")
			return nil, err
		}
		if rows == nil {
			rows = []domain.Study{}
		}
		f.publish(gen, rows)
		return rows, nil
	})

	select {
	case res := <-ch:
		span.SetAttributes(attribute.Bool("feed.shared", res.Shared))
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Study), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached snapshot and refetches in the background.
// It is the change callback handed to the subscriber.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	f.gen++
	closing := f.closing
	if !closing {
		f.wg.Add(1)
	}
	f.mu.Unlock()
	f.cache.Delete(snapshotKey)
	if closing {
		return
	}

	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := f.Refresh(ctx); err != nil {
			f.logger.Warn("feed: refresh failed", zap.Error(err))
		}
	}()
}

// publish stores rows unless a newer generation was already published.
func (f *Feed) publish(gen uint64, rows []domain.Study) {
	f.mu.Lock()
	if f.ready && gen < f.publishedGen {
		f.mu.Unlock()
		f.metrics.IncrFeedRefresh(observability.RefreshDiscarded)
		f.logger.Debug("feed: discarded stale snapshot", zap.Uint64("generation", gen))
		return
	}
	f.publishedGen = gen
	f.latest = rows
	f.ready = true
	if gen == f.gen {
		f.cache.Set(snapshotKey, rows)
	}
	f.mu.Unlock()

	f.metrics.IncrFeedRefresh(observability.RefreshOK)
	f.metrics.SetStudyGauges(kpi.Compute(rows, f.clock()))

	f.listenMu.RLock()
	defer f.listenMu.RUnlock()
	for _, fn := range f.listeners {
		fn(rows)
	}
}

// Listen registers fn for every published snapshot. The returned function
// unregisters it; fn is not called after it returns. fn must not block.
func (f *Feed) Listen(fn func([]domain.Study)) func() {
	f.listenMu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.listenMu.Lock()
			delete(f.listeners, id)
			f.listenMu.Unlock()
		})
	}
}

// Ready reports whether a snapshot has been published.
func (f *Feed) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// Stats returns the feed counters for GET /v1/metrics/feed.
func (f *Feed) Stats() *domain.FeedMetrics {
	m := f.metrics.FeedSnapshot()

	f.listenMu.RLock()
	m.Listeners = len(f.listeners)
	f.listenMu.RUnlock()

	f.mu.Lock()
	m.Studies = len(f.latest)
	f.mu.Unlock()
	return m
}
