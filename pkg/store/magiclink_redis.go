package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"luminabooks/internal/util"
)

const magicLinkKeyPrefix = "lumina:magiclink:"

// RedisMagicLinkStore keeps single-use login tokens in Redis. Redemption is
// GETDEL, so a token observed by two racing requests succeeds exactly once.
type RedisMagicLinkStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMagicLinkStore builds a Redis-backed magic link store.
func NewRedisMagicLinkStore(addr, password string, ttl time.Duration) *RedisMagicLinkStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisMagicLinkStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// CreateMagicLink writes a token -> userID mapping with TTL.
func (s *RedisMagicLinkStore) CreateMagicLink(userID string) (string, error) {
	token := util.NewID()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, magicLinkKeyPrefix+token, userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemMagicLink atomically consumes a token.
func (s *RedisMagicLinkStore) RedeemMagicLink(token string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.GetDel(ctx, magicLinkKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// MemoryMagicLinkStore keeps magic link tokens in-process for tests.
type MemoryMagicLinkStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewMemoryMagicLinkStore initializes an empty in-memory magic link store.
func NewMemoryMagicLinkStore() *MemoryMagicLinkStore {
	return &MemoryMagicLinkStore{tokens: make(map[string]string)}
}

// CreateMagicLink issues a token for the user.
func (m *MemoryMagicLinkStore) CreateMagicLink(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.tokens[token] = userID
	return token, nil
}

// RedeemMagicLink consumes a token.
func (m *MemoryMagicLinkStore) RedeemMagicLink(token string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.tokens[token]
	if ok {
		delete(m.tokens, token)
	}
	return uid, ok, nil
}
