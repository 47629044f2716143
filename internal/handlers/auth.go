package handlers

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/store"
	"github.com/example/posync/internal/utils"
)

// AuthHandler issues tenant-scoped API tokens.
type AuthHandler struct {
	store store.Store
	cfg   *config.Config
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(st store.Store, cfg *config.Config) *AuthHandler {
	return &AuthHandler{store: st, cfg: cfg}
}

type tokenRequest struct {
	TenantID     string `json:"tenant_id" validate:"required,uuid"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// IssueToken exchanges a tenant's POS client credentials for an API token.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	tenantID := uuid.MustParse(req.TenantID)
	integration, err := h.store.GetIntegration(c.UserContext(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	idMatch := subtle.ConstantTimeCompare([]byte(integration.ClientID), []byte(req.ClientID)) == 1
	secretMatch := subtle.ConstantTimeCompare([]byte(integration.ClientSecret), []byte(req.ClientSecret)) == 1
	if !idMatch || !secretMatch {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, tenantID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"expires_in": int(h.cfg.TokenExpires.Seconds()),
	})
}
