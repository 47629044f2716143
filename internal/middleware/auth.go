package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/utils"
)

const tenantContextKey = "currentTenantID"

// AuthMiddleware accepts only HS256 bearer tokens signed with the configured
// secret that carry a non-nil tenant_id claim. The tenant is stored in Locals
// and added to the request logger. Every /api route reads or writes data of
// that tenant only: order queries filter by it and tenant-addressed routes go
// through AuthorizeTenant.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		tenantID, err := utils.ParseToken(cfg.JWTSecret, parts[1])
		if err != nil || tenantID == uuid.Nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(tenantContextKey, tenantID)
		ctx := c.UserContext()
		c.SetUserContext(logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("tenant_id", tenantID.String()))))
		return c.Next()
	}
}

// GetCurrentTenantID extracts the authenticated tenant ID from context.
func GetCurrentTenantID(c *fiber.Ctx) (uuid.UUID, bool) {
	value := c.Locals(tenantContextKey)
	if value == nil {
		return uuid.Nil, false
	}

	if id, ok := value.(uuid.UUID); ok {
		return id, true
	}

	return uuid.Nil, false
}

// AuthorizeTenant parses a tenant ID named by the request and requires it to
// be the authenticated tenant: 401 without one, 400 when raw is malformed and
// 403 on a mismatch.
func AuthorizeTenant(c *fiber.Ctx, raw string) (uuid.UUID, error) {
	current, ok := GetCurrentTenantID(c)
	if !ok {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid tenant_id")
	}
	if tenantID != current {
		return uuid.Nil, fiber.NewError(fiber.StatusForbidden, "tenant mismatch")
	}
	return tenantID, nil
}
