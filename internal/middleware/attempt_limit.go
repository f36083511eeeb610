package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const attemptWindow = time.Minute

// AttemptLimit caps failed credential checks per minute for the value of a
// JSON body field, falling back to the client IP when the field is absent.
// Only requests that end in 401 count, so successful payments and replays
// never use up a payer's budget. Once the cap is reached further requests
// get 429 until the window expires. Without Redis, or on cache errors, it
// lets requests through.
func AttemptLimit(cache *redis.Client, scope, field string, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}

		key := "rl:" + scope + ":" + attemptSubject(c, field)
		failures, err := cache.Get(c.UserContext(), key).Int64()
		if err == nil && failures >= int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many "+scope+" attempts, try again later")
		}

		err = c.Next()
		if outcomeStatus(c, err) == http.StatusUnauthorized {
			recordFailure(cache, key)
		}
		return err
	}
}

func attemptSubject(c *fiber.Ctx, field string) string {
	var body map[string]any
	if err := json.Unmarshal(c.Body(), &body); err == nil {
		if v, ok := body[field].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return c.IP()
}

func outcomeStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return http.StatusInternalServerError
}

// recordFailure counts one failure; the window starts at the first.
func recordFailure(cache *redis.Client, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	cnt, err := cache.Incr(ctx, key).Result()
	if err == nil && cnt == 1 {
		cache.Expire(ctx, key, attemptWindow)
	}
}
