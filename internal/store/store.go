package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/catalog"
	"github.com/JakeFAU/taped/internal/clock/system"
	"github.com/JakeFAU/taped/internal/crawler"
	"github.com/JakeFAU/taped/internal/hash/sha256"
	"github.com/JakeFAU/taped/internal/metrics"
	"github.com/JakeFAU/taped/internal/storage"
)

// ErrNotReady is returned by readers before the first publish.
var ErrNotReady = errors.New("catalog not published yet")

// EventCatalogPublished is the event name sent after every publish.
const EventCatalogPublished = "catalog.published"

// Default lifecycle timings.
const (
	DefaultRefreshInterval = 24 * time.Hour
	DefaultRefreshBackoff  = 30 * time.Second
	DefaultStartupBackoff  = 5 * time.Second
)

// State is the lifecycle position of the catalog.
type State int32

// Catalog lifecycle states.
const (
	StateEmpty State = iota
	StateBuilding
	StatePublished
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StatePublished:
		return "published"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source says where a published catalog came from.
type Source string

// Catalog sources.
const (
	SourceSnapshot Source = "snapshot"
	SourceCrawl    Source = "crawl"
)

// Snapshot is an immutable published catalog with its pre-encoded body.
type Snapshot struct {
	Catalog     catalog.Catalog
	Body        []byte
	ETag        string
	PublishedAt time.Time
	Source      Source
}

// Event is the payload of the catalog.published notification.
type Event struct {
	Cassettes   int       `json:"cassettes"`
	ETag        string    `json:"etag"`
	Source      Source    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Builder produces a fresh catalog from upstream.
type Builder interface {
	Build(ctx context.Context) (catalog.Catalog, error)
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds the lifecycle timings. A zero RefreshInterval disables the
// background refresh loop.
type Config struct {
	RefreshInterval time.Duration
	RefreshBackoff  time.Duration
	StartupBackoff  time.Duration
}

// Store owns the published catalog.
type Store struct {
	cfg       Config
	builder   Builder
	provider  storage.Provider
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	sleeper   Sleeper
	logger    *zap.Logger

	startup *FixedRetryPolicy
	refresh *FixedRetryPolicy

	buildMu  sync.Mutex
	state    atomic.Int32
	snapshot atomic.Pointer[Snapshot]
}

// Option customizes a Store.
type Option func(*Store)

// WithPublisher sends catalog.published events through p.
func WithPublisher(p crawler.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithHasher overrides the entity tag hasher.
func WithHasher(h crawler.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithSleeper overrides how the store waits between attempts.
func WithSleeper(sl Sleeper) Option {
	return func(s *Store) { s.sleeper = sl }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds a Store. Provider may be nil, in which case nothing is persisted.
func New(cfg Config, builder Builder, provider storage.Provider, opts ...Option) (*Store, error) {
	if builder == nil {
		return nil, errors.New("builder is required")
	}
	if cfg.RefreshInterval < 0 {
		return nil, errors.New("refresh interval must not be negative")
	}
	if cfg.RefreshBackoff <= 0 {
		cfg.RefreshBackoff = DefaultRefreshBackoff
	}
	if cfg.StartupBackoff <= 0 {
		cfg.StartupBackoff = DefaultStartupBackoff
	}
	if provider == nil {
		provider = storage.NoOpProvider{}
	}
	clk := system.New()
	s := &Store{
		cfg:      cfg,
		builder:  builder,
		provider: provider,
		hasher:   sha256.New(),
		clock:    clk,
		sleeper:  clk,
		logger:   zap.NewNop(),
		startup:  NewFixedRetryPolicy(cfg.StartupBackoff),
		refresh:  NewFixedRetryPolicy(cfg.RefreshBackoff),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")
	return s, nil
}

// State reports the lifecycle state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// Snapshot returns the current published snapshot or ErrNotReady.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		return nil, ErrNotReady
	}
	return snap, nil
}

// Cassette looks up one cassette in the published catalog.
func (s *Store) Cassette(id uuid.UUID) (catalog.Cassette, bool) {
	snap := s.snapshot.Load()
	if snap == nil {
		return catalog.Cassette{}, false
	}
	c, ok := snap.Catalog[id]
	return c, ok
}

// Start publishes the persisted snapshot when one loads, otherwise builds
// the catalog, retrying with the startup backoff until it succeeds or ctx
// is done.
func (s *Store) Start(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	s.state.Store(int32(StateBuilding))
	if c, data, ok := s.loadSnapshot(ctx); ok {
		s.publish(ctx, c, data, SourceSnapshot)
		return nil
	}

	for attempt := 1; ; attempt++ {
		c, err := s.builder.Build(ctx)
		if err == nil {
			s.persistAndPublish(ctx, c)
			return nil
		}
		if !s.startup.ShouldRetry(ctx, err) {
			s.state.Store(int32(StateEmpty))
			return fmt.Errorf("initial catalog build: %w", err)
		}
		delay := s.startup.Backoff(attempt)
		s.logger.Warn("catalog build failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			s.state.Store(int32(StateEmpty))
			return fmt.Errorf("initial catalog build: %w", err)
		}
	}
}

// Refresh makes one synchronous rebuild attempt. On failure the previous
// snapshot stays published.
func (s *Store) Refresh(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	previous := s.State()
	if s.snapshot.Load() != nil {
		s.state.Store(int32(StateRefreshing))
	} else {
		s.state.Store(int32(StateBuilding))
	}

	c, err := s.builder.Build(ctx)
	if err != nil {
		if s.snapshot.Load() != nil {
			s.state.Store(int32(StatePublished))
		} else {
			s.state.Store(int32(previous))
		}
		return fmt.Errorf("refresh catalog: %w", err)
	}
	s.persistAndPublish(ctx, c)
	return nil
}

// Run refreshes the catalog every RefreshInterval until ctx is done. A
// failed refresh is retried after RefreshBackoff. Run returns nil on
// cancellation.
func (s *Store) Run(ctx context.Context) error {
	if s.cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	for {
		if err := s.sleeper.Sleep(ctx, s.cfg.RefreshInterval); err != nil {
			return nil
		}
		for attempt := 1; ; attempt++ {
			err := s.Refresh(ctx)
			if err == nil {
				break
			}
			if !s.refresh.ShouldRetry(ctx, err) {
				return nil
			}
			delay := s.refresh.Backoff(attempt)
			s.logger.Warn("catalog refresh failed, keeping previous snapshot",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if err := s.sleeper.Sleep(ctx, delay); err != nil {
				return nil
			}
		}
	}
}

func (s *Store) loadSnapshot(ctx context.Context) (catalog.Catalog, []byte, bool) {
	data, err := s.provider.Load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("snapshot unavailable, crawling", zap.Error(err))
		}
		return nil, nil, false
	}
	c, err := storage.Decode(data)
	if err != nil {
		s.logger.Warn("snapshot unreadable, crawling", zap.Error(err))
		return nil, nil, false
	}
	return c, data, true
}

func (s *Store) persistAndPublish(ctx context.Context, c catalog.Catalog) {
	data, err := storage.Encode(c)
	if err != nil {
		// Catalog values are plain strings; encoding cannot fail in practice.
		s.logger.Error("encode catalog", zap.Error(err))
		return
	}
	if err := s.provider.Save(ctx, data); err != nil {
		s.logger.Warn("persist snapshot failed", zap.Error(err))
	}
	s.publish(ctx, c, data, SourceCrawl)
}

func (s *Store) publish(ctx context.Context, c catalog.Catalog, body []byte, source Source) {
	digest, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("hash snapshot failed", zap.Error(err))
	}
	snap := &Snapshot{
		Catalog:     c,
		Body:        body,
		PublishedAt: s.clock.Now(),
		Source:      source,
	}
	if digest != "" {
		snap.ETag = sha256.ETag(digest)
	}
	s.snapshot.Store(snap)
	s.state.Store(int32(StatePublished))
	metrics.ObservePublish(string(source), len(c))
	s.logger.Info("catalog published",
		zap.Int("cassettes", len(c)),
		zap.String("source", string(source)),
		zap.String("etag", snap.ETag),
	)

	if s.publisher == nil {
		return
	}
	event := Event{
		Cassettes:   len(c),
		ETag:        snap.ETag,
		Source:      source,
		PublishedAt: snap.PublishedAt,
	}
	if _, err := s.publisher.Publish(ctx, EventCatalogPublished, event); err != nil {
		s.logger.Warn("catalog notification failed", zap.Error(err))
	}
}
