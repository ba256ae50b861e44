package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/cache"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/memory"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"
	"github.com/boddenberg/etudes-bfa-go/internal/service"

	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// --- Mocks ---

type mockLister struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]domain.Study, error)
}

func (m *mockLister) ListStudies(_ context.Context) ([]domain.Study, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.fn(call)
}

func (m *mockLister) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(_ context.Context, _ func()) (func(), error) {
	return nil, errors.New("realtime unavailable")
}

func newTestFeed(t *testing.T, lister interface {
	ListStudies(context.Context) ([]domain.Study, error)
}) *service.Feed {
	t.Helper()
	c := cache.New[[]domain.Study](time.Minute)
	t.Cleanup(c.Close)
	return service.NewFeed(lister, c, fixedClock, observability.NewMetrics(), zap.NewNop())
}

func receive(t *testing.T, ch <-chan []domain.Study) []domain.Study {
	t.Helper()
	select {
	case rows := <-ch:
		return rows
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// --- Tests ---

func TestFeed_SnapshotIsCached(t *testing.T) {
	lister := &mockLister{fn: func(int) ([]domain.Study, error) {
		return []domain.Study{{ID: "a"}}, nil
	}}
	feed := newTestFeed(t, lister)

	for i := 0; i < 3; i++ {
		rows, err := feed.Snapshot(context.Background())
		if err != nil || len(rows) != 1 {
			t.Fatalf("unexpected snapshot %v %v", rows, err)
		}
	}
	if lister.Calls() != 1 {
		t.Errorf("expected 1 backend call, got %d", lister.Calls())
	}
	if !feed.Ready() {
		t.Error("expected feed ready after first snapshot")
	}

	stats := feed.Stats()
	if stats.Refreshes != 1 || stats.Studies != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.CacheHitRate < 0.66 || stats.CacheHitRate > 0.67 {
		t.Errorf("expected 2/3 hit rate, got %f", stats.CacheHitRate)
	}
}

func TestFeed_InvalidateRefetchesAndNotifies(t *testing.T) {
	lister := &mockLister{fn: func(call int) ([]domain.Study, error) {
		rows := make([]domain.Study, call)
		return rows, nil
	}}
	feed := newTestFeed(t, lister)

	got := make(chan []domain.Study, 4)
	unlisten := feed.Listen(func(rows []domain.Study) { got <- rows })
	defer unlisten()

	if _, err := feed.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rows := receive(t, got); len(rows) != 1 {
		t.Fatalf("expected first snapshot of 1, got %d", len(rows))
	}

	feed.Invalidate()
	if rows := receive(t, got); len(rows) != 2 {
		t.Fatalf("expected refreshed snapshot of 2, got %d", len(rows))
	}

	rows, _ := feed.Snapshot(context.Background())
	if len(rows) != 2 {
		t.Errorf("expected cached refreshed snapshot, got %d rows", len(rows))
	}
}

func TestFeed_DiscardsStaleResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	lister := &mockLister{fn: func(call int) ([]domain.Study, error) {
		if call == 1 {
			close(started)
			<-release
			return []domain.Study{{ID: "old"}}, nil
		}
		return []domain.Study{{ID: "new"}}, nil
	}}
	feed := newTestFeed(t, lister)

	got := make(chan []domain.Study, 4)
	defer feed.Listen(func(rows []domain.Study) { got <- rows })()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = feed.Refresh(context.Background())
	}()
	<-started

	feed.Invalidate()
	if rows := receive(t, got); rows[0].ID != "new" {
		t.Fatalf("expected new snapshot first, got %v", rows)
	}

	close(release)
	<-done

	select {
	case rows := <-got:
		t.Fatalf("stale snapshot published: %v", rows)
	default:
	}

	rows, _ := feed.Snapshot(context.Background())
	if len(rows) != 1 || rows[0].ID != "new" {
		t.Errorf("expected latest snapshot to win, got %v", rows)
	}
	if stats := feed.Stats(); stats.DiscardedStale != 1 {
		t.Errorf("expected 1 discarded refresh, got %+v", stats)
	}
}

func TestFeed_ListenUnsubscribe(t *testing.T) {
	lister := &mockLister{fn: func(int) ([]domain.Study, error) { return nil, nil }}
	feed := newTestFeed(t, lister)

	var calls atomic.Int32
	unlisten := feed.Listen(func([]domain.Study) { calls.Add(1) })
	_, _ = feed.Refresh(context.Background())
	unlisten()
	unlisten()
	_, _ = feed.Refresh(context.Background())

	if calls.Load() != 1 {
		t.Errorf("expected 1 notification, got %d", calls.Load())
	}
	if feed.Stats().Listeners != 0 {
		t.Error("expected no listeners left")
	}
}

func TestFeed_RefreshErrorIsReported(t *testing.T) {
	lister := &mockLister{fn: func(int) ([]domain.Study, error) {
		return nil, &domain.ErrExternalService{Service: "supabase/studies", Err: errors.New("boom")}
	}}
	feed := newTestFeed(t, lister)

	_, err := feed.Snapshot(context.Background())
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if feed.Ready() {
		t.Error("feed should not be ready without a snapshot")
	}
	if stats := feed.Stats(); stats.FailedRefreshes != 1 {
		t.Errorf("expected 1 failed refresh, got %+v", stats)
	}
}

func TestFeed_RunFollowsStoreChanges(t *testing.T) {
	store := memory.New([]domain.Study{{ID: "a", Title: "A"}})
	feed := newTestFeed(t, store)

	got := make(chan []domain.Study, 8)
	defer feed.Listen(func(rows []domain.Study) { got <- rows })()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- feed.Run(ctx, store) }()

	if rows := receive(t, got); len(rows) != 1 {
		t.Fatalf("expected initial snapshot of 1, got %d", len(rows))
	}

	if _, err := store.CreateStudy(context.Background(), &domain.NewStudy{Title: "B"}); err != nil {
		t.Fatal(err)
	}
	if rows := receive(t, got); len(rows) != 2 {
		t.Fatalf("expected snapshot of 2 after change, got %d", len(rows))
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestFeed_RunPollsWhenSubscriptionFails(t *testing.T) {
	lister := &mockLister{fn: func(int) ([]domain.Study, error) { return []domain.Study{}, nil }}
	feed := newTestFeed(t, lister).WithPolling(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx, failingSubscriber{}) }()

	deadline := time.Now().Add(2 * time.Second)
	for lister.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected polling refreshes, got %d calls", lister.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// gatedLister blocks every fetch until release is closed.
type gatedLister struct {
	calls   atomic.Int32
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func newGatedLister() *gatedLister {
	return &gatedLister{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLister) ListStudies(ctx context.Context) ([]domain.Study, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return []domain.Study{{ID: "a"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFeed_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	lister := newGatedLister()
	feed := newTestFeed(t, lister)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := feed.Snapshot(ctxA)
		errA <- err
	}()
	<-lister.entered

	type result struct {
		rows []domain.Study
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		rows, err := feed.Snapshot(context.Background())
		resB <- result{rows, err}
	}()
	time.Sleep(20 * time.Millisecond) // let B join the fetch

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled for the cancelled caller, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(lister.release)
	select {
	case res := <-resB:
		if res.err != nil {
			t.Fatalf("expected rows for the joined caller, got %v", res.err)
		}
		if len(res.rows) != 1 || res.rows[0].ID != "a" {
			t.Errorf("unexpected rows %+v", res.rows)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("joined caller did not return")
	}

	if n := lister.calls.Load(); n != 1 {
		t.Errorf("expected one shared fetch, got %d", n)
	}
	if stats := feed.Stats(); stats.FailedRefreshes != 0 {
		t.Errorf("expected no failed refresh, got %+v", stats)
	}
}

func TestFeed_InvalidateAfterRunStopsDoesNotRefetch(t *testing.T) {
	store := memory.New([]domain.Study{{ID: "a"}})
	lister := &mockLister{fn: func(int) ([]domain.Study, error) {
		return store.ListStudies(context.Background())
	}}
	feed := newTestFeed(t, lister)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- feed.Run(ctx, store) }()

	deadline := time.Now().Add(2 * time.Second)
	for !feed.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("feed never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	calls := lister.Calls()

	feed.Invalidate()
	if _, err := store.CreateStudy(context.Background(), &domain.NewStudy{Title: "B"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if got := lister.Calls(); got != calls {
		t.Errorf("expected no refetch after Run returned, got %d calls (was %d)", got, calls)
	}
}
