package services

import (
	"errors"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the identity claims carried by the auth envelope token.
type Claims struct {
	Role     domain.Role     `json:"role"`
	UserID   domain.UserID   `json:"user_id"`
	DeviceID domain.DeviceID `json:"device_id,omitempty"`
	SchoolID domain.SchoolID `json:"school_id"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *tokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *tokenService) GenerateToken(identity domain.Identity) (string, error) {
	claims := &Claims{
		Role:     identity.Role,
		UserID:   identity.UserID,
		DeviceID: identity.DeviceID,
		SchoolID: identity.SchoolID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *tokenService) ValidateToken(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Identity{}, ErrInvalidToken
	}

	identity := domain.Identity{
		Role:     claims.Role,
		UserID:   claims.UserID,
		DeviceID: claims.DeviceID,
		SchoolID: claims.SchoolID,
	}
	if err := identity.Validate(); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	return identity, nil
}
