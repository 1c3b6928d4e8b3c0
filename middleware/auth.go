package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"emojiparty/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	usernameKey = "username"
	playerIDKey = "player_id"
)

// AuthMiddleware verifies the HS256 bearer token issued by the identity
// provider and stores the username and derived player id in the context.
// Websocket clients may pass the token as the "token" query parameter.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			abort(c, "Authorization token required")
			return
		}

		username, err := ParseToken(secret, tokenString)
		if err != nil {
			abort(c, "Invalid or expired token")
			return
		}

		c.Set(usernameKey, username)
		c.Set(playerIDKey, services.PlayerID(username))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success":   false,
		"error":     message,
		"code":      services.KindUnauthorized,
		"timestamp": time.Now().UnixMilli(),
	})
}

// ParseToken validates tokenString and returns its username claim, falling
// back to the subject.
func ParseToken(secret, tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	if username, ok := claims["username"].(string); ok && strings.TrimSpace(username) != "" {
		return strings.TrimSpace(username), nil
	}
	if sub, err := claims.GetSubject(); err == nil && strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub), nil
	}
	return "", errors.New("token carries no username")
}

// IssueToken signs a token for username. It stands in for the identity
// provider in development and tests.
func IssueToken(secret, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"sub":      username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// RequireAdmin lets through only the configured admin usernames, compared
// case-insensitively. It must run after AuthMiddleware.
func RequireAdmin(admins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(admins))
	for _, name := range admins {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			allowed[name] = true
		}
	}
	return func(c *gin.Context) {
		if !allowed[strings.ToLower(Username(c))] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success":   false,
				"error":     "Admin access required",
				"code":      services.KindForbidden,
				"timestamp": time.Now().UnixMilli(),
			})
			return
		}
		c.Next()
	}
}

// Username returns the authenticated username.
func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}

// PlayerID returns the player id derived from the authenticated username.
func PlayerID(c *gin.Context) string {
	return c.GetString(playerIDKey)
}
