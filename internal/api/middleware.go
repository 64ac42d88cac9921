package api

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/georgeshao/outscraper-go/pkg/types"
)

const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderNamespace = "X-Namespace"
)

// RequireAPIKey rejects calls without an X-API-KEY header. When keys is
// non-empty the header must match one of them.
func RequireAPIKey(keys []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderAPIKey)
		if key == "" {
			return fail(c, fiber.StatusUnauthorized, "Missing "+HeaderAPIKey+" header")
		}
		if len(keys) == 0 {
			return c.Next()
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
				return c.Next()
			}
		}
		return fail(c, fiber.StatusUnauthorized, "Invalid API key")
	}
}

// ErrorHandler answers unhandled errors with the error envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return fail(c, code, err.Error())
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(types.NewErrorResponse(msg))
}
