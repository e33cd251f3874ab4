package auth

import (
	"errors"
	"time"

	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to a single operation.
type Purpose string

const (
	PurposeAccess        Purpose = "access"
	PurposePasswordReset Purpose = "password_reset"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidTokenType = errors.New("invalid token type")
)

type Claims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	Stamp     string `json:"stp,omitempty"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret      []byte
	accessTTL   time.Duration
	purposeTTLs map[Purpose]time.Duration
	now         func() time.Time
}

func NewManager(secret string, accessTTL time.Duration, resetTTL time.Duration) *Manager {
	return &Manager{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		purposeTTLs: map[Purpose]time.Duration{
			PurposePasswordReset: resetTTL,
		},
		now: time.Now,
	}
}

func (m *Manager) IssueAccessToken(u user.User) (string, error) {
	now := m.now().UTC()

	claims := Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		TokenType: string(PurposeAccess),
		JTI:       uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			Subject:   u.ID,
		},
	}
	return m.sign(claims)
}

// IssuePurposeToken binds a token to the user, the purpose and the user's current
// security stamp. Rotating the stamp revokes every outstanding token for the user.
func (m *Manager) IssuePurposeToken(u user.User, purpose Purpose) (string, error) {
	if purpose == PurposeAccess {
		return "", ErrInvalidTokenType
	}

	ttl, ok := m.purposeTTLs[purpose]
	if !ok || ttl <= 0 {
		ttl = time.Hour
	}

	now := m.now().UTC()

	claims := Claims{
		UserID:    u.ID,
		TokenType: string(purpose),
		Stamp:     u.SecurityStamp,
		JTI:       uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   u.ID,
		},
	}
	return m.sign(claims)
}

// VerifyPurposeToken never returns an error: anything that is not a live token
// issued for exactly this user, purpose and stamp is simply false.
func (m *Manager) VerifyPurposeToken(u user.User, purpose Purpose, tokenStr string) bool {
	if tokenStr == "" || purpose == PurposeAccess {
		return false
	}

	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return false
	}

	if claims.TokenType != string(purpose) {
		return false
	}

	if claims.UserID == "" || claims.UserID != u.ID {
		return false
	}

	return claims.Stamp == u.SecurityStamp
}

func (m *Manager) ParseAndValidate(tokenStr string) (claims *Claims, err error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		_, ok := t.Method.(*jwt.SigningMethodHMAC)

		if !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)

	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != string(PurposeAccess) {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}
