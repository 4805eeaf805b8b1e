package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/asset-loan/internal"
)

const approvalTokenAudience = "loan-approval"

// ApprovalClaims is the payload of an out-of-band approval link. The jti is
// the secret part; only its bcrypt hash is stored with the application.
type ApprovalClaims struct {
	ApplicationID string `json:"application_id"`
	Level         int    `json:"level"`
	jwt.RegisteredClaims
}

type IssuedToken struct {
	Token     string
	Hash      string
	ExpiresAt time.Time
}

type ApprovalTokenSigner struct {
	secret     []byte
	ttl        time.Duration
	bcryptCost int
}

func NewApprovalTokenSigner(secret string, ttl time.Duration, bcryptCost int) *ApprovalTokenSigner {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &ApprovalTokenSigner{
		secret:     []byte(secret),
		ttl:        ttl,
		bcryptCost: bcryptCost,
	}
}

// Issue signs a single-use token for one approval level of an application.
func (s *ApprovalTokenSigner) Issue(applicationID string, level int, now time.Time) (IssuedToken, error) {
	jti := uuid.New().String()
	expiresAt := now.Add(s.ttl)

	claims := &ApprovalClaims{
		ApplicationID: applicationID,
		Level:         level,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   applicationID,
			Audience:  jwt.ClaimStrings{approvalTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign approval token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(jti), s.bcryptCost)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("hash approval token: %w", err)
	}

	return IssuedToken{Token: signed, Hash: string(hash), ExpiresAt: expiresAt}, nil
}

// Parse checks signature, audience and expiry at now.
func (s *ApprovalTokenSigner) Parse(token string, now time.Time) (*ApprovalClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ApprovalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithAudience(approvalTokenAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*ApprovalClaims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.ApplicationID == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

// Matches compares the token id against the stored hash.
func (s *ApprovalTokenSigner) Matches(claims *ApprovalClaims, hash string) bool {
	if claims == nil || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(claims.ID)) == nil
}
