package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumipay/lumipay/internal/httpx"
	"github.com/lumipay/lumipay/internal/logging"
)

func TestRateLimitPerOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(httpx.OwnerLocal, c.Get("X-Owner"))
		return c.Next()
	})
	app.Post("/transfers", RateLimit(cache, "transfers", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	expect := func(owner string, want int) {
		t.Helper()
		req := httptest.NewRequest(fiber.MethodPost, "/transfers", nil)
		req.Header.Set("X-Owner", owner)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("expected %d for %s, got %d", want, owner, resp.StatusCode)
		}
		if want == fiber.StatusTooManyRequests && resp.Header.Get(fiber.HeaderRetryAfter) == "" {
			t.Fatalf("expected Retry-After header on limited response")
		}
	}

	expect("alice", fiber.StatusCreated)
	expect("alice", fiber.StatusCreated)
	expect("alice", fiber.StatusTooManyRequests)
	expect("bob", fiber.StatusCreated)

	mr.FastForward(61 * time.Second)
	expect("alice", fiber.StatusCreated)
}

func TestRateLimitWithoutCache(t *testing.T) {
	app := fiber.New()
	app.Get("/", RateLimit(nil, "transfers", 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 without a cache, got %d", resp.StatusCode)
		}
	}
}
