package artifact

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	memcache "medianalyst/internal/cache/memory"
	artifactrepo "medianalyst/internal/gateway/repository/artifact"
)

type Store = artifactrepo.Store

type CacheConfig struct {
	ObjectTTL        time.Duration
	ObjectMaxEntries int
	ObjectMaxBytes   int

	ListTTL        time.Duration
	ListMaxEntries int

	// URLTTL must stay below the presigned link expiry of the origin.
	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ObjectTTL:        5 * time.Minute,
		ObjectMaxEntries: 256,
		ObjectMaxBytes:   32 * 1024 * 1024, // 32MiB
		ListTTL:          30 * time.Second,
		ListMaxEntries:   64,
		URLTTL:           5 * time.Minute,
		URLMaxEntries:    256,
	}
}

func (c CacheConfig) withDefaults() CacheConfig {
	def := DefaultCacheConfig()
	if c.ObjectTTL <= 0 {
		c.ObjectTTL = def.ObjectTTL
	}
	if c.ObjectMaxEntries <= 0 {
		c.ObjectMaxEntries = def.ObjectMaxEntries
	}
	if c.ObjectMaxBytes < 0 {
		c.ObjectMaxBytes = def.ObjectMaxBytes
	}
	if c.ListTTL <= 0 {
		c.ListTTL = def.ListTTL
	}
	if c.ListMaxEntries <= 0 {
		c.ListMaxEntries = def.ListMaxEntries
	}
	if c.URLTTL <= 0 {
		c.URLTTL = def.URLTTL
	}
	if c.URLMaxEntries <= 0 {
		c.URLMaxEntries = def.URLMaxEntries
	}
	return c
}

type MetricsSnapshot struct {
	ObjectHits     uint64
	ObjectMisses   uint64
	ListHits       uint64
	ListMisses     uint64
	URLHits        uint64
	URLMisses      uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type metrics struct {
	objectHits     atomic.Uint64
	objectMisses   atomic.Uint64
	listHits       atomic.Uint64
	listMisses     atomic.Uint64
	urlHits        atomic.Uint64
	urlMisses      atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

// CachedStore fronts an artifact origin with read-through caches for objects,
// prefix listings and links. Writes go to the origin first.
type CachedStore struct {
	origin Store

	objects *memcache.LRUTTL[string, artifactrepo.Object]
	lists   *memcache.LRUTTL[string, []string]
	urls    *memcache.LRUTTL[string, string]
	metrics metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	cfg = cfg.withDefaults()
	return &CachedStore{
		origin:  origin,
		objects: memcache.NewLRUTTL[string, artifactrepo.Object](cfg.ObjectMaxEntries, cfg.ObjectMaxBytes, cfg.ObjectTTL),
		lists:   memcache.NewLRUTTL[string, []string](cfg.ListMaxEntries, 0, cfg.ListTTL),
		urls:    memcache.NewLRUTTL[string, string](cfg.URLMaxEntries, 0, cfg.URLTTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, obj artifactrepo.Object) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, obj); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	key := cacheKey(obj.Key)
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	s.objects.Set(key, cloneObject(obj, key), len(obj.Data))
	s.urls.Delete(key)
	s.lists.DeleteFunc(func(prefix string) bool { return strings.HasPrefix(key, prefix) })
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (artifactrepo.Object, error) {
	key = cacheKey(key)
	if obj, ok := s.objects.Get(key); ok {
		s.metrics.objectHits.Add(1)
		return cloneObject(obj, key), nil
	}
	s.metrics.objectMisses.Add(1)
	s.metrics.originReads.Add(1)

	obj, err := s.origin.Get(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return artifactrepo.Object{}, err
	}
	s.objects.Set(key, cloneObject(obj, key), len(obj.Data))
	return cloneObject(obj, key), nil
}

func (s *CachedStore) URL(ctx context.Context, key string) (string, error) {
	key = cacheKey(key)
	if cached, ok := s.urls.Get(key); ok {
		s.metrics.urlHits.Add(1)
		return cached, nil
	}
	s.metrics.urlMisses.Add(1)
	s.metrics.originReads.Add(1)

	u, err := s.origin.URL(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return "", err
	}
	if strings.TrimSpace(u) != "" {
		s.urls.Set(key, u, len(u))
	}
	return u, nil
}

func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cacheKey(prefix)
	if keys, ok := s.lists.Get(prefix); ok {
		s.metrics.listHits.Add(1)
		return append([]string(nil), keys...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	keys, err := s.origin.List(ctx, prefix)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	copied := append([]string(nil), keys...)
	approx := 0
	for _, k := range copied {
		approx += len(k)
	}
	s.lists.Set(prefix, copied, approx)
	return append([]string(nil), copied...), nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	m := &s.metrics
	return MetricsSnapshot{
		ObjectHits:     m.objectHits.Load(),
		ObjectMisses:   m.objectMisses.Load(),
		ListHits:       m.listHits.Load(),
		ListMisses:     m.listMisses.Load(),
		URLHits:        m.urlHits.Load(),
		URLMisses:      m.urlMisses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

func cacheKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func cloneObject(obj artifactrepo.Object, key string) artifactrepo.Object {
	obj.Key = key
	obj.Data = append([]byte(nil), obj.Data...)
	return obj
}
