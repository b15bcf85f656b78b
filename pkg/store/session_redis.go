package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"luminabooks/internal/util"
)

const sessionKeyPrefix = "lumina:session:"

// RedisSessionStore keeps opaque session tokens in Redis with TTL.
// Deleting the key is the whole revocation story, which keeps sign-out
// immediate without any token denylist bookkeeping.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(addr, password string, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// NewSession writes a token -> userID mapping with TTL.
func (s *RedisSessionStore) NewSession(userID string) (string, error) {
	token := util.NewID()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, sessionKeyPrefix+token, userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// GetUserIDByToken resolves token to user ID.
func (s *RedisSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// DeleteSession removes a token mapping.
func (s *RedisSessionStore) DeleteSession(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// MemorySessionStore keeps sessions in-process for tests.
type MemorySessionStore struct {
	mu   sync.Mutex
	sess map[string]string
}

// NewMemorySessionStore initializes an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sess: make(map[string]string)}
}

// NewSession issues a token for the user.
func (m *MemorySessionStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a token.
func (m *MemorySessionStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

// DeleteSession removes a token.
func (m *MemorySessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
