package service

import (
	"fmt"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// tokenTypeAccess is the only token type this service issues.
const tokenTypeAccess = "access"

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"`
}

// OperatorRole returns the role claim as a domain role.
func (c *AppClaims) OperatorRole() domain.OperatorRole {
	return domain.OperatorRole(c.Role)
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService signs and verifies operator access tokens for the ops feed and
// the back-office. Operators are provisioned outside this service; tokens are
// minted with cmd/opstoken.
type AuthService struct {
	cfg *config.Config
	now func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg, now: time.Now}
}

// IssueAccessToken signs an access token for subject with the given role.
func (s *AuthService) IssueAccessToken(subject string, role domain.OperatorRole) (string, time.Time, error) {
	if subject == "" || !role.IsValid() {
		return "", time.Time{}, fmt.Errorf("auth_service.IssueAccessToken: subject %q role %q: %w",
			subject, role, domain.ErrTokenInvalid)
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.JWT.AccessTTL)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role:      string(role),
		TokenType: tokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth_service.IssueAccessToken: sign: %w", err)
	}
	return signed, expires, nil
}

// parseToken validates the token signature, algorithm, and expiry.
func (s *AuthService) parseToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.cfg.JWT.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccessToken is exported for use by the JWT middleware and the WS hub.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess || !claims.OperatorRole().IsValid() {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
