package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

// Claims is the verified caller identity carried by a bearer token. The
// engine trusts these values completely and never re-derives them from the
// request body.
type Claims struct {
	UserID uuid.UUID
	Email  string
	Role   domain.Role
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the account with user_id, email and role claims.
func (tm *TokenManager) Issue(acc *domain.Account) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": acc.ID.String(),
		"email":   acc.Email,
		"role":    string(acc.Role),
		"iat":     now.Unix(),
		"exp":     now.Add(tm.ttl).Unix(),
	})
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token signature and expiry and returns the claims.
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrAuthentication
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrAuthentication
	}

	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.ErrAuthentication
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, domain.ErrAuthentication
	}
	role, _ := claims["role"].(string)

	return &Claims{UserID: userID, Email: email, Role: domain.Role(role)}, nil
}
