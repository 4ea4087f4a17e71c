package resultcache

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"diffgrid/internal/gateway/repository/blob"
)

type CacheConfig struct {
	MaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 512,
	}
}

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore keeps recently used objects in process in front of an origin
// blob store. Cache entries never change once written, so there is no
// expiry; absent keys are not remembered.
type CachedStore struct {
	origin  blob.Store
	hot     *lru.Cache[string, []byte]
	metrics Metrics
}

func NewCachedStore(origin blob.Store, cfg CacheConfig) (*CachedStore, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	hot, err := lru.New[string, []byte](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, hot: hot}, nil
}

func (s *CachedStore) Put(ctx context.Context, key string, content []byte) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, key, content); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.hot.Add(key, append([]byte(nil), content...))
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if raw, ok := s.hot.Get(key); ok {
		s.metrics.hits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Get(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.hot.Add(key, append([]byte(nil), raw...))
	return raw, nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

// MustRegisterMetrics exposes the hot tier counters on reg.
func (s *CachedStore) MustRegisterMetrics(reg prometheus.Registerer) {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "diffgrid",
			Subsystem: "hot_cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	reg.MustRegister(
		counter("hits_total", "Hot tier lookups served from memory.", &s.metrics.hits),
		counter("misses_total", "Hot tier lookups sent to the origin store.", &s.metrics.misses),
		counter("origin_reads_total", "Reads issued to the origin store.", &s.metrics.originReads),
		counter("origin_writes_total", "Writes issued to the origin store.", &s.metrics.originWrites),
		counter("origin_read_errors_total", "Origin reads that failed, not-found included.", &s.metrics.originReadErr),
		counter("origin_write_errors_total", "Origin writes that failed.", &s.metrics.originWriteErr),
	)
}
