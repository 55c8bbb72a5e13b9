package middleware

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	idempotencyCacheTTL = 24 * time.Hour
	lockTimeout         = 10 * time.Second

	cacheKeyPrefix = "idempotency:"
	lockKeyPrefix  = "idemlock:"
)

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency is the Redis fast path for retried requests: cached replay of
// the stored response and a SetNX lock that rejects concurrent duplicates.
// The ledger's unique key column stays the durable source of truth, so a nil
// client simply disables this layer.
func Idempotency(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil {
			return c.Next()
		}

		// The engine rejects a missing key; nothing to cache here.
		key := c.Get(idempotencyHeader)
		if key == "" {
			return c.Next()
		}

		// Keys are namespaced per caller so one user can never replay (or
		// lock out) another user's request that happens to share a key.
		// The auth middleware runs first, so the id is always set here.
		userID, ok := c.Locals("user_id").(uuid.UUID)
		if !ok {
			return c.Next()
		}

		ctx := c.Context()
		scope := userID.String() + ":" + key
		cacheKey := cacheKeyPrefix + scope
		lockKey := lockKeyPrefix + scope

		if raw, err := rdb.Get(ctx, cacheKey).Result(); err == nil {
			var cached cachedResponse
			if json.Unmarshal([]byte(raw), &cached) == nil {
				slog.Info("Idempotency cache hit", "key", key)
				c.Set("X-Idempotency-Hit", "true")
				c.Set("Content-Type", "application/json")
				return c.Status(cached.Status).Send(cached.Body)
			}
		} else if err != redis.Nil {
			// Redis down: fall through, the ledger still guards replays.
			slog.Warn("Idempotency cache unavailable", "error", err)
			return c.Next()
		}

		acquired, err := rdb.SetNX(ctx, lockKey, "processing", lockTimeout).Result()
		if err != nil {
			slog.Warn("Idempotency lock unavailable", "error", err)
			return c.Next()
		}
		if !acquired {
			slog.Info("Concurrent duplicate request rejected", "key", key)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A request with this idempotency key is currently being processed",
			})
		}
		defer func() {
			if err := rdb.Del(ctx, lockKey).Err(); err != nil {
				slog.Warn("Failed to release idempotency lock", "error", err, "key", key)
			}
		}()

		if err := c.Next(); err != nil {
			return err
		}

		// Cache successful responses only.
		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			body := make([]byte, len(c.Response().Body()))
			copy(body, c.Response().Body())
			raw, err := json.Marshal(cachedResponse{Status: status, Body: body})
			if err == nil {
				if err := rdb.Set(ctx, cacheKey, raw, idempotencyCacheTTL).Err(); err != nil {
					slog.Warn("Failed to cache idempotent response", "error", err, "key", key)
				}
			}
		}

		return nil
	}
}
