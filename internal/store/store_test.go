package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taped/internal/catalog"
	pubmemory "github.com/JakeFAU/taped/internal/publisher/memory"
	"github.com/JakeFAU/taped/internal/storage"
	"github.com/JakeFAU/taped/internal/storage/memory"
	"github.com/JakeFAU/taped/internal/store"
)

type fakeBuilder struct {
	mu      sync.Mutex
	results []buildResult
	calls   int
}

type buildResult struct {
	catalog catalog.Catalog
	err     error
}

func (b *fakeBuilder) Build(ctx context.Context) (catalog.Catalog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := b.calls
	if idx >= len(b.results) {
		idx = len(b.results) - 1
	}
	b.calls++
	return b.results[idx].catalog, b.results[idx].err
}

func (b *fakeBuilder) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func catalogOf(urls ...string) catalog.Catalog {
	c := catalog.Catalog{}
	for _, u := range urls {
		id := catalog.IdentityFor(u)
		c[id] = catalog.Cassette{
			UUID:          id,
			Name:          u,
			URL:           u,
			Labels:        []string{},
			Subcategories: []catalog.Subcategory{},
		}
	}
	return c
}

func TestStartPrefersSnapshot(t *testing.T) {
	t.Parallel()

	seed := catalogOf("https://example.com/2020/01/a.html")
	data, err := storage.Encode(seed)
	require.NoError(t, err)

	builder := &fakeBuilder{results: []buildResult{{err: errors.New("must not crawl")}}}
	pub := pubmemory.New()
	s, err := store.New(store.Config{}, builder, memory.NewSnapshotStore(data),
		store.WithPublisher(pub),
		store.WithClock(fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 0, builder.Calls())
	assert.Equal(t, store.StatePublished, s.State())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, store.SourceSnapshot, snap.Source)
	assert.Equal(t, seed, snap.Catalog)
	assert.Equal(t, data, snap.Body)
	assert.NotEmpty(t, snap.ETag)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, store.EventCatalogPublished, msgs[0].Topic)
	event, ok := msgs[0].Payload.(store.Event)
	require.True(t, ok)
	assert.Equal(t, 1, event.Cassettes)
	assert.Equal(t, store.SourceSnapshot, event.Source)
}

func TestStartCrawlsWhenSnapshotCorrupt(t *testing.T) {
	t.Parallel()

	fresh := catalogOf("https://example.com/2020/01/b.html")
	builder := &fakeBuilder{results: []buildResult{{catalog: fresh}}}
	provider := memory.NewSnapshotStore([]byte("not json"))
	s, err := store.New(store.Config{}, builder, provider)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, builder.Calls())
	assert.Equal(t, 1, provider.Saves())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, store.SourceCrawl, snap.Source)
	assert.Equal(t, fresh, snap.Catalog)

	saved, err := provider.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Body, saved)
}

func TestStartRetriesUntilBuildSucceeds(t *testing.T) {
	t.Parallel()

	fresh := catalogOf("https://example.com/2020/01/c.html")
	builder := &fakeBuilder{results: []buildResult{
		{err: errors.New("upstream down")},
		{err: errors.New("upstream still down")},
		{catalog: fresh},
	}}
	sleeper := &fakeSleeper{}
	s, err := store.New(store.Config{StartupBackoff: 7 * time.Second}, builder, nil,
		store.WithSleeper(sleeper),
	)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, builder.Calls())
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, sleeper.Waits())
	assert.Equal(t, store.StatePublished, s.State())
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{results: []buildResult{{err: errors.New("upstream down")}}}
	s, err := store.New(store.Config{}, builder, nil, store.WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, store.StateEmpty, s.State())

	_, err = s.Snapshot()
	assert.ErrorIs(t, err, store.ErrNotReady)
}

func TestPersistFailureStillPublishes(t *testing.T) {
	t.Parallel()

	fresh := catalogOf("https://example.com/2020/01/d.html")
	builder := &fakeBuilder{results: []buildResult{{catalog: fresh}}}
	s, err := store.New(store.Config{}, builder, failingProvider{})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, fresh, snap.Catalog)
}

type failingProvider struct{}

func (failingProvider) Load(context.Context) ([]byte, error) { return nil, storage.ErrNotFound }
func (failingProvider) Save(context.Context, []byte) error   { return errors.New("disk full") }

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	first := catalogOf("https://example.com/2020/01/e.html")
	builder := &fakeBuilder{results: []buildResult{
		{catalog: first},
		{err: errors.New("upstream down")},
	}}
	s, err := store.New(store.Config{}, builder, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	before, err := s.Snapshot()
	require.NoError(t, err)

	err = s.Refresh(context.Background())
	require.Error(t, err)

	after, err := s.Snapshot()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, store.StatePublished, s.State())
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	t.Parallel()

	first := catalogOf("https://example.com/2020/01/f.html")
	second := catalogOf("https://example.com/2020/01/f.html", "https://example.com/2020/02/g.html")
	builder := &fakeBuilder{results: []buildResult{{catalog: first}, {catalog: second}}}
	s, err := store.New(store.Config{}, builder, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	before, err := s.Snapshot()
	require.NoError(t, err)

	require.NoError(t, s.Refresh(context.Background()))
	after, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, after.Catalog, 2)
	assert.NotEqual(t, before.ETag, after.ETag)

	id := catalog.IdentityFor("https://example.com/2020/02/g.html")
	c, ok := s.Cassette(id)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/2020/02/g.html", c.URL)
}

func TestNotificationFailureDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("broker down"))
	builder := &fakeBuilder{results: []buildResult{{catalog: catalogOf("https://example.com/2020/01/h.html")}}}
	s, err := store.New(store.Config{}, builder, nil, store.WithPublisher(pub))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	_, err = s.Snapshot()
	assert.NoError(t, err)
}

func TestReadersNeverSeePartialCatalog(t *testing.T) {
	t.Parallel()

	small := catalogOf("https://example.com/2020/01/i.html")
	large := catalogOf(
		"https://example.com/2020/01/i.html",
		"https://example.com/2020/01/j.html",
		"https://example.com/2020/01/k.html",
	)
	builder := &fakeBuilder{results: []buildResult{{catalog: small}, {catalog: large}}}
	s, err := store.New(store.Config{}, builder, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	var stop atomic.Bool
	var bad atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				snap, err := s.Snapshot()
				if err != nil {
					bad.Add(1)
					continue
				}
				if n := len(snap.Catalog); n != 1 && n != 3 {
					bad.Add(1)
				}
			}
		}()
	}
	for range 20 {
		require.NoError(t, s.Refresh(context.Background()))
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, bad.Load())
}

func TestRunRefreshesOnInterval(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{results: []buildResult{
		{catalog: catalogOf("https://example.com/2020/01/l.html")},
		{err: errors.New("upstream down")},
		{catalog: catalogOf("https://example.com/2020/01/l.html", "https://example.com/2020/01/m.html")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &cancelAfterSleeper{limit: 3, cancel: cancel}
	s, err := store.New(store.Config{RefreshInterval: time.Hour, RefreshBackoff: time.Minute}, builder, nil,
		store.WithSleeper(sleeper),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []time.Duration{time.Hour, time.Minute, time.Hour}, sleeper.waits)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Catalog, 2)
}

// cancelAfterSleeper cancels the run context on the limit-th wait.
type cancelAfterSleeper struct {
	limit  int
	cancel context.CancelFunc
	waits  []time.Duration
}

func (s *cancelAfterSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if len(s.waits) >= s.limit {
		s.cancel()
	}
	return ctx.Err()
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := store.New(store.Config{}, nil, nil)
	assert.Error(t, err)

	_, err = store.New(store.Config{RefreshInterval: -time.Second}, &fakeBuilder{}, nil)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty", store.StateEmpty.String())
	assert.Equal(t, "building", store.StateBuilding.String())
	assert.Equal(t, "published", store.StatePublished.String())
	assert.Equal(t, "refreshing", store.StateRefreshing.String())
}
