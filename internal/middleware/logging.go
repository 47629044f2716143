package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/posync/internal/logger"
)

// RequestLogger stores a request-scoped logger in the user context. It picks
// up the ID set by fiber's requestid middleware when that runs first.
func RequestLogger(base *zap.Logger) fiber.Handler {
	base = logger.OrGlobal(base)
	return func(c *fiber.Ctx) error {
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
		}
		if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}

		c.SetUserContext(logger.WithContext(c.UserContext(), base.With(fields...)))
		return c.Next()
	}
}
