package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	id := uuid.New()
	token, err := GenerateJWT("s3cret", id, models.RoleSeller, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: id, Role: models.RoleSeller}, claims.Actor())
}

func TestJWTRejects(t *testing.T) {
	id := uuid.New()

	good, err := GenerateJWT("s3cret", id, models.RoleCustomer, time.Hour)
	require.NoError(t, err)
	_, err = ParseJWT("other", good)
	assert.Error(t, err, "wrong secret")

	expired, err := GenerateJWT("s3cret", id, models.RoleCustomer, -time.Hour)
	require.NoError(t, err)
	// Non-positive expirations fall back to the default lifetime.
	_, err = ParseJWT("s3cret", expired)
	assert.NoError(t, err)

	system, err := GenerateJWT("s3cret", id, models.RoleSystem, time.Hour)
	require.NoError(t, err)
	_, err = ParseJWT("s3cret", system)
	assert.Error(t, err, "system actors never authenticate over HTTP")

	_, err = ParseJWT("s3cret", "not-a-token")
	assert.Error(t, err)
}
