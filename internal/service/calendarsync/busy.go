package calendarsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

// BusyCache holds external busy intervals per practitioner and query window.
// Invalidate drops every window for a practitioner.
type BusyCache interface {
	Get(ctx context.Context, practitionerID uuid.UUID, window string) ([]repo.Interval, bool, error)
	Put(ctx context.Context, practitionerID uuid.UUID, window string, busy []repo.Interval, ttl time.Duration) error
	Invalidate(ctx context.Context, practitionerID uuid.UUID) error
}

func windowKey(from, to time.Time) string {
	return fmt.Sprintf("%d-%d", from.Unix(), to.Unix())
}

// redisBusyCache keeps one hash per practitioner so a pull can drop all of
// its windows with a single DEL.
type redisBusyCache struct {
	rdb *redis.Client
}

func NewRedisBusyCache(rdb *redis.Client) BusyCache {
	return &redisBusyCache{rdb: rdb}
}

func (c *redisBusyCache) key(id uuid.UUID) string {
	return constants.RedisKeyBusyCache + id.String()
}

func (c *redisBusyCache) Get(ctx context.Context, practitionerID uuid.UUID, window string) ([]repo.Interval, bool, error) {
	raw, err := c.rdb.HGet(ctx, c.key(practitionerID), window).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget busy: %w", err)
	}
	var out []repo.Interval
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (c *redisBusyCache) Put(ctx context.Context, practitionerID uuid.UUID, window string, busy []repo.Interval, ttl time.Duration) error {
	raw, err := json.Marshal(busy)
	if err != nil {
		return err
	}
	key := c.key(practitionerID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, window, raw)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis cache busy: %w", err)
	}
	return nil
}

func (c *redisBusyCache) Invalidate(ctx context.Context, practitionerID uuid.UUID) error {
	return c.rdb.Del(ctx, c.key(practitionerID)).Err()
}

type memoryBusyEntry struct {
	busy    []repo.Interval
	expires time.Time
}

// MemoryBusyCache is the in-process BusyCache.
type MemoryBusyCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[string]memoryBusyEntry
}

func NewMemoryBusyCache() *MemoryBusyCache {
	return &MemoryBusyCache{entries: map[uuid.UUID]map[string]memoryBusyEntry{}}
}

func (c *MemoryBusyCache) Get(_ context.Context, practitionerID uuid.UUID, window string) ([]repo.Interval, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[practitionerID][window]
	if !ok || time.Now().After(e.expires) {
		return nil, false, nil
	}
	return append([]repo.Interval(nil), e.busy...), true, nil
}

func (c *MemoryBusyCache) Put(_ context.Context, practitionerID uuid.UUID, window string, busy []repo.Interval, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[practitionerID] == nil {
		c.entries[practitionerID] = map[string]memoryBusyEntry{}
	}
	c.entries[practitionerID][window] = memoryBusyEntry{
		busy:    append([]repo.Interval(nil), busy...),
		expires: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryBusyCache) Invalidate(_ context.Context, practitionerID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, practitionerID)
	return nil
}
