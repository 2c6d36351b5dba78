package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when no backend token is stored for a session.
var ErrNoSession = errors.New("auth: no session")

// StoredToken is the backend session token kept for one gateway session.
type StoredToken struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	HospitalUID string    `json:"hospital_uid,omitempty"`
}

// TokenStore persists backend tokens keyed by gateway session id.
type TokenStore interface {
	Save(ctx context.Context, sessionID string, tok StoredToken, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (StoredToken, error)
	Delete(ctx context.Context, sessionID string) error
}

// RedisTokenStore keeps tokens in Redis with a TTL.
type RedisTokenStore struct {
	redis *redis.Client
}

// NewRedisTokenStore creates a Redis-backed token store.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{redis: client}
}

func (s *RedisTokenStore) key(sessionID string) string {
	return fmt.Sprintf("oncare:session:%s", sessionID)
}

// Save implements TokenStore.
func (s *RedisTokenStore) Save(ctx context.Context, sessionID string, tok StoredToken, ttl time.Duration) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("auth: marshal token: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	return nil
}

// Load implements TokenStore.
func (s *RedisTokenStore) Load(ctx context.Context, sessionID string) (StoredToken, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredToken{}, ErrNoSession
	}
	if err != nil {
		return StoredToken{}, fmt.Errorf("auth: load token: %w", err)
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return StoredToken{}, fmt.Errorf("auth: unmarshal token: %w", err)
	}
	return tok, nil
}

// Delete implements TokenStore.
func (s *RedisTokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("auth: delete token: %w", err)
	}
	return nil
}

type memoryEntry struct {
	tok     StoredToken
	expires time.Time
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(_ context.Context, sessionID string, tok StoredToken, ttl time.Duration) error {
	e := memoryEntry{tok: tok}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[sessionID] = e
	s.mu.Unlock()
	return nil
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load(_ context.Context, sessionID string) (StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return StoredToken{}, ErrNoSession
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, sessionID)
		return StoredToken{}, ErrNoSession
	}
	return e.tok, nil
}

// Delete implements TokenStore.
func (s *MemoryTokenStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}
