package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
)

// StateStore keeps the OAuth state parameter between the authorize redirect
// and the callback. Take consumes the state.
type StateStore interface {
	Put(ctx context.Context, state string, practitionerID uuid.UUID, ttl time.Duration) error
	Take(ctx context.Context, state string) (uuid.UUID, error)
}

type redisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) StateStore {
	return &redisStateStore{rdb: rdb}
}

func (s *redisStateStore) Put(ctx context.Context, state string, practitionerID uuid.UUID, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, constants.RedisKeyOAuthState+state, practitionerID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set oauth state: %w", err)
	}
	return nil
}

func (s *redisStateStore) Take(ctx context.Context, state string) (uuid.UUID, error) {
	v, err := s.rdb.GetDel(ctx, constants.RedisKeyOAuthState+state).Result()
	if err == redis.Nil {
		return uuid.Nil, ErrInvalidState
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("redis get oauth state: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, ErrInvalidState
	}
	return id, nil
}

type memoryState struct {
	practitionerID uuid.UUID
	expires        time.Time
}

// MemoryStateStore is the in-process StateStore used without Redis.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]memoryState{}, now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, state string, practitionerID uuid.UUID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = memoryState{practitionerID: practitionerID, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	delete(s.states, state)
	if !ok || !s.now().Before(st.expires) {
		return uuid.Nil, ErrInvalidState
	}
	return st.practitionerID, nil
}
