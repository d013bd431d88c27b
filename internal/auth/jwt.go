// Package auth implements the World registry's admin authentication:
// an HS256 JWT whose "worlds" claim must list the calling world id, or a
// shared shard secret presented via X-Access-Shard. See spec §4.5/§6.5.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WorldClaims is the claim set a World admin token carries.
type WorldClaims struct {
	Worlds []string `json:"worlds"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates HS256 World admin tokens.
type JWTManager struct {
	secret []byte
}

// NewJWTManager builds a manager around the shared HS256 secret. An empty
// secret is accepted so a world can run with only the shard-secret path
// enabled; ValidateToken then always fails closed.
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secret: []byte(secret)}
}

// GenerateToken issues an admin token authorizing the given worlds.
func (jm *JWTManager) GenerateToken(worlds []string, expiresIn time.Duration) (string, error) {
	claims := WorldClaims{
		Worlds: worlds,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "roomfabric-world",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jm.secret)
}

// ValidateToken parses and verifies an admin token, returning its claims.
func (jm *JWTManager) ValidateToken(tokenString string) (*WorldClaims, error) {
	if len(jm.secret) == 0 {
		return nil, fmt.Errorf("jwt validation disabled: no AUTH_JWT_SECRET configured")
	}

	claims := &WorldClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// Authorizes reports whether the claims grant admin access to worldID.
func (c *WorldClaims) Authorizes(worldID string) bool {
	for _, w := range c.Worlds {
		if w == worldID {
			return true
		}
	}
	return false
}

// ExtractTokenFromHeader pulls a bearer token out of an Authorization header.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimPrefix(authHeader, prefix), nil
}

// CheckAdmin authorizes an inbound admin request per spec §4.5: either a
// valid JWT whose "worlds" claim lists worldID, or a matching
// X-Access-Shard header.
func (jm *JWTManager) CheckAdmin(req *http.Request, worldID, shardSecret string) bool {
	if shardSecret != "" && req.Header.Get("X-Access-Shard") == shardSecret {
		return true
	}

	tokenString, err := ExtractTokenFromHeader(req.Header.Get("Authorization"))
	if err != nil {
		return false
	}

	claims, err := jm.ValidateToken(tokenString)
	if err != nil {
		return false
	}

	return claims.Authorizes(worldID)
}
