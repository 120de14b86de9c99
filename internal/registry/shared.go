package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedStore is the slice of shared state the registry needs: cooldown
// markers, the exact result cache and the similarity pools. Backed by Redis
// in production; a nil store degrades cooldowns to process-local state and
// disables both caches.
type SharedStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client as a SharedStore.
func NewRedisStore(client *redis.Client) SharedStore {
	return &redisStore{client: client}
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *redisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.ZRange(ctx, key, start, stop).Result()
}

func (s *redisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *redisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return s.client.ZRemRangeByRank(ctx, key, start, stop).Err()
}

// MemoryStore is an in-process SharedStore for single-node deployments and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	zsets   map[string][]zMember
	nowFunc func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

type zMember struct {
	score  float64
	member string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memEntry),
		zsets:   make(map[string][]zMember),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) now() time.Time { return s.nowFunc() }

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && (e.expires.IsZero() || e.expires.After(s.now())) {
		return false, nil
	}
	s.values[key] = memEntry{value: value, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || (!e.expires.IsZero() && !e.expires.After(s.now())) {
		return -2 * time.Second, nil
	}
	if e.expires.IsZero() {
		return -1 * time.Second, nil
	}
	return e.expires.Sub(s.now()), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || (!e.expires.IsZero() && !e.expires.After(s.now())) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.zsets[key]
	for i, m := range set {
		if m.member == member {
			set[i].score = score
			s.sortLocked(key, set)
			return nil
		}
	}
	s.sortLocked(key, append(set, zMember{score: score, member: member}))
	return nil
}

func (s *MemoryStore) sortLocked(key string, set []zMember) {
	sort.SliceStable(set, func(i, j int) bool { return set[i].score < set[j].score })
	s.zsets[key] = set
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.zsets[key]
	n := int64(len(set))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, m := range set[start : stop+1] {
		out = append(out, m.member)
	}
	return out, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) ZRemRangeByRank(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.zsets[key]
	n := int64(len(set))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	s.zsets[key] = append(set[:start], set[stop+1:]...)
	return nil
}
