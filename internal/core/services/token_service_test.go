package services

import (
	"testing"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	identity := domain.Identity{
		Role:     domain.RoleViewer,
		UserID:   "teacher-1",
		DeviceID: "device-42",
		SchoolID: "school-1",
	}

	token, err := svc.GenerateToken(identity)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestTokenService_RejectsExpiredToken(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)

	token, err := svc.GenerateToken(domain.Identity{
		Role:     domain.RoleObserver,
		UserID:   "admin-1",
		SchoolID: "school-1",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	token, err := issuer.GenerateToken(domain.Identity{
		Role:     domain.RoleBroadcaster,
		UserID:   "student-device-1",
		SchoolID: "school-1",
	})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	_, err := svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsInvalidIdentityClaims(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	// A viewer token without a device id is structurally invalid.
	token, err := svc.GenerateToken(domain.Identity{
		Role:     domain.RoleViewer,
		UserID:   "teacher-1",
		SchoolID: "school-1",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
