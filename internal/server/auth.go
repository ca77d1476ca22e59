package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// SignToken issues an HS256 bearer token with the given subject and TTL.
// The scour API has no user accounts; operators mint tokens with the shared
// secret (see the token subcommand) and present them on every request.
func SignToken(subject string, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("jwt secret required")
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// HashAPIKey derives the bcrypt hash stored in server.api_key_hash for the
// static key alternative to bearer tokens.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// withAuth validates requests against either credential: an X-API-Key header
// checked against the configured bcrypt hash, or a bearer token from the
// Authorization header or the auth cookie. The subject lands on the echo
// context either way.
func withAuth(secret []byte, apiKeyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKeyHash != "" {
				if key := c.Request().Header.Get("X-API-Key"); key != "" {
					if bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)) != nil {
						return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
					}
					c.Set("subject", "api-key")
					return next(c)
				}
			}
			if len(secret) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
			}
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
				if sub, ok := claims["sub"].(string); ok {
					c.Set("subject", sub)
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}
