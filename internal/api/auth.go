package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// ActorContextKey holds the authenticated actor name
	ActorContextKey ContextKey = "actor"
)

// ActorClaims are the JWT claims the boardroom understands. Name takes
// precedence over the registered subject when both are present.
type ActorClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// ActorExtraction resolves the acting participant from a Bearer token. With
// an empty secret the middleware passes everything through untouched. With a
// secret configured, requests without a token stay anonymous, but a token
// that is present and invalid is rejected.
func ActorExtraction(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return next(c)
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			actor, err := actorFromToken(tokenParts[1], secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ActorContextKey), actor)
			return next(c)
		}
	}
}

func actorFromToken(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = fmt.Errorf("invalid token")
		}
		return "", err
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	if name := strings.TrimSpace(claims.Name); name != "" {
		return name, nil
	}
	if sub := strings.TrimSpace(claims.Subject); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("token carries no actor identity")
}

// actorFor returns the authenticated actor if present, otherwise the
// caller-supplied fallback.
func actorFor(c echo.Context, fallback string) string {
	if actor, ok := c.Get(string(ActorContextKey)).(string); ok && actor != "" {
		return actor
	}
	if fallback != "" {
		return fallback
	}
	return "anonymous"
}
