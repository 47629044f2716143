package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/utils"
)

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	tenantID := uuid.New()
	token, err := utils.GenerateToken(cfg.JWTSecret, tenantID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	nilToken, err := utils.GenerateToken(cfg.JWTSecret, uuid.Nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	app := fiber.New()
	app.Get("/", AuthMiddleware(cfg), func(c *fiber.Ctx) error {
		id, ok := GetCurrentTenantID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		return c.SendString(id.String())
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, fiber.StatusOK},
		{"lowercase scheme", "bearer " + token, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, fiber.StatusUnauthorized},
		{"bad token", "Bearer nope", fiber.StatusUnauthorized},
		{"nil tenant", "Bearer " + nilToken, fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestAuthMiddleware_TagsRequestLogger(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	tenantID := uuid.New()
	token, _ := utils.GenerateToken(cfg.JWTSecret, tenantID, time.Hour)

	core, logs := observer.New(zap.InfoLevel)
	app := fiber.New()
	app.Get("/", RequestLogger(zap.New(core)), AuthMiddleware(cfg), func(c *fiber.Ctx) error {
		logger.FromContext(c.UserContext()).Info("handled")
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request: %v", err)
	}

	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["tenant_id"]; got != tenantID.String() {
		t.Errorf("expected tenant_id %s on request logger, got %v", tenantID, got)
	}
}

func TestAuthorizeTenant(t *testing.T) {
	current := uuid.New()

	tests := []struct {
		name   string
		auth   bool
		raw    string
		status int
	}{
		{"own tenant", true, current.String(), fiber.StatusOK},
		{"other tenant", true, uuid.NewString(), fiber.StatusForbidden},
		{"malformed", true, "not-a-uuid", fiber.StatusBadRequest},
		{"unauthenticated", false, current.String(), fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/:tenant_id", func(c *fiber.Ctx) error {
				if tt.auth {
					c.Locals(tenantContextKey, current)
				}
				id, err := AuthorizeTenant(c, c.Params("tenant_id"))
				if err != nil {
					return err
				}
				if id != current {
					t.Errorf("expected %s, got %s", current, id)
				}
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/"+tt.raw, nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}
