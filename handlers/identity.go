package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errIdentityRequired = errors.New("userId and organizationId are required")

// identity is the already-authorized caller identity the core trusts.
// Authenticating it is the identity provider's job, not ours.
type identity struct {
	userID         string
	organizationID string
}

// resolveIdentity extracts userId/organizationId from the handshake: plain
// query parameters first (trusted platform callers), then claims of a bearer
// token signed with the shared secret. Tokens are rejected when no secret is
// configured rather than parsed unverified.
func resolveIdentity(c *gin.Context, secret string) (identity, error) {
	id := identity{
		userID:         c.Query("userId"),
		organizationID: c.Query("organizationId"),
	}
	if id.userID != "" && id.organizationID != "" {
		return id, nil
	}

	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && secret != "" {
		raw := strings.TrimPrefix(auth, "Bearer ")
		tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return identity{}, err
		}
		if claims, ok := tok.Claims.(jwt.MapClaims); ok {
			if id.userID == "" {
				if v, _ := claims["userId"].(string); v != "" {
					id.userID = v
				} else if v, _ := claims["sub"].(string); v != "" {
					id.userID = v
				}
			}
			if id.organizationID == "" {
				id.organizationID, _ = claims["organizationId"].(string)
			}
		}
	}

	if id.userID == "" || id.organizationID == "" {
		return identity{}, errIdentityRequired
	}
	return id, nil
}
