package http

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
)

const (
	// HeaderIdempotencyKey is the request header clients set on retried writes.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the idempotency store.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	idempotencyPrefix = "idempotency:"
)

// StoredResponse is a response recorded under an idempotency key.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag,omitempty"`
	Body        []byte `json:"body"`
}

// IdempotencyStore persists responses of state-changing requests.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, bool, error)
	Save(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error
}

// RedisIdempotencyStore shares recorded responses between replicas.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*StoredResponse, bool, error) {
	raw, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyPrefix+key, raw, ttl).Err()
}

type memoryEntry struct {
	resp      StoredResponse
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps recorded responses in process.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-process store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	resp := entry.resp
	resp.Body = append([]byte(nil), entry.resp.Body...)
	return &resp, true, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, k)
		}
	}
	resp.Body = append([]byte(nil), resp.Body...)
	s.entries[key] = memoryEntry{resp: resp, expiresAt: now.Add(ttl)}
	return nil
}

// IdempotencyMiddleware replays the recorded response when the same principal
// repeats a write with the same Idempotency-Key. It must run after
// authentication. Failed requests are not recorded so they can be retried.
func IdempotencyMiddleware(store IdempotencyStore, ttl time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderIdempotencyKey)
		if store == nil || key == "" || c.Method() == fiber.MethodGet {
			return c.Next()
		}
		principal, err := auth.MustPrincipal(c)
		if err != nil {
			return err
		}
		storeKey := principal.User.ID + ":" + c.Method() + ":" + c.Path() + ":" + key

		stored, found, err := store.Get(c.UserContext(), storeKey)
		if err != nil {
			logger.Warn("idempotency lookup failed", zap.Error(err))
		} else if found {
			c.Set(HeaderIdempotentReplay, "true")
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			if stored.ETag != "" {
				c.Set(fiber.HeaderETag, stored.ETag)
			}
			return c.Status(stored.Status).Send(stored.Body)
		}

		if err := c.Next(); err != nil {
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			return nil
		}
		resp := StoredResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			ETag:        string(c.Response().Header.Peek(fiber.HeaderETag)),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := store.Save(c.UserContext(), storeKey, resp, ttl); err != nil {
			logger.Warn("idempotency save failed", zap.Error(err))
		}
		return nil
	}
}
