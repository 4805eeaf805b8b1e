package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/directory"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenGenerator creates and checks bearer tokens.
type TokenGenerator interface {
	GenerateAccessToken(userID string, email string, roles []string) (token string, err error)
	GenerateRefreshToken(userID string, email string) (token string, err error)
	ValidateToken(tokenString string, want TokenType) (*Claims, error)
}

// UserStore is the part of the directory that authentication reads.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*directory.User, error)
	GetByID(ctx context.Context, userID string) (*directory.User, error)
}

type ServiceAPI interface {
	Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	CurrentUser(ctx context.Context, userID string) (*directory.User, error)
}

type AuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Claims represents JWT token claims
type Claims struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles,omitempty"`
	Type   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	now             func() time.Time
}

var (
	ErrInvalidCredentials = internal.NewUnauthorizedError("invalid credentials", internal.ErrCodeInvalidCredentials)
	ErrUserInactive       = internal.NewUnauthorizedError("user is inactive", internal.ErrCodeUserInactive)
)
