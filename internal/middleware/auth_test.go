package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/auth"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Use(AuthMiddleware(cfg, zap.NewNop()))
	app.Get("/me", func(c *fiber.Ctx) error {
		a := GetActor(c)
		return c.SendString(string(a.Role) + ":" + a.ID.String())
	})
	app.Post("/disputes/:id/resolve", RequirePermission(rbac.PermManageDisputes), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func request(t *testing.T, app *fiber.App, method, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "s3cret"}
	app := newApp(cfg)

	assert.Equal(t, http.StatusUnauthorized, request(t, app, http.MethodGet, "/me", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, request(t, app, http.MethodGet, "/me", "garbage").StatusCode)

	token, err := auth.GenerateJWT(cfg.JWTSecret, uuid.New(), models.RoleCustomer, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, request(t, app, http.MethodGet, "/me", token).StatusCode)
}

func TestRequirePermission(t *testing.T) {
	cfg := &config.Config{JWTSecret: "s3cret"}
	app := newApp(cfg)

	seller, err := auth.GenerateJWT(cfg.JWTSecret, uuid.New(), models.RoleSeller, time.Hour)
	require.NoError(t, err)
	admin, err := auth.GenerateJWT(cfg.JWTSecret, uuid.New(), models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	path := "/disputes/" + uuid.NewString() + "/resolve"
	assert.Equal(t, http.StatusUnauthorized, request(t, app, http.MethodPost, path, seller).StatusCode)
	assert.Equal(t, http.StatusNoContent, request(t, app, http.MethodPost, path, admin).StatusCode)
}
