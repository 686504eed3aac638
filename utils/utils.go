package utils

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"crm-chat/backend/models"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// IdentityKey is the context key under which the authenticated identity is stored.
const IdentityKey contextKey = "identity"

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentityFromContext extracts the identity placed by the auth middleware.
func GetIdentityFromContext(ctx context.Context) (models.Identity, error) {
	id, ok := ctx.Value(IdentityKey).(models.Identity)
	if !ok || id.UserID == "" {
		return models.Identity{}, errors.New("identity not found in context")
	}
	return id, nil
}

// GetUserIDFromContext is a shortcut for the caller's user id.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	id, err := GetIdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

// TokenVerifier resolves a bearer token to an identity or fails with AuthFailed.
type TokenVerifier interface {
	VerifyToken(token string) (models.Identity, error)
}

// Claims is the JWT payload issued by the CRM's auth service.
type Claims struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed tokens.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) VerifyToken(tokenString string) (models.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Identity{}, models.NewError(models.CodeAuthFailed, "token required")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, &models.ChatError{Code: models.CodeAuthFailed, Message: "token expired", Err: err}
		}
		return models.Identity{}, &models.ChatError{Code: models.CodeAuthFailed, Message: "invalid token", Err: err}
	}
	if !token.Valid || claims.UserID == "" {
		return models.Identity{}, models.NewError(models.CodeAuthFailed, "invalid token claims")
	}

	return models.Identity{UserID: claims.UserID, Roles: claims.Roles}, nil
}

// GenerateJWT issues a token in the format JWTVerifier accepts.
func GenerateJWT(userID string, roles []string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.New("failed to sign token")
	}
	return tokenString, nil
}

// SortIDs sorts user ids in place.
func SortIDs(ids []string) {
	sort.Strings(ids)
}

// Pair identifies two users regardless of order.
type Pair [2]string

// PairKey is the order-independent key of a two-user pair.
func PairKey(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{a, b}
}

// DedupeIDs drops empty and repeated ids, keeping first occurrence order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
