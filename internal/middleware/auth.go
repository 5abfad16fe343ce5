package middleware

import (
	"context"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

const (
	ContextUID  = "uid"
	ContextRole = "role"

	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// Authenticator resolves the caller of a request and stores uid/role in the
// echo context.
type Authenticator interface {
	RequireAuth(next echo.HandlerFunc) echo.HandlerFunc
	OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc
}

type AuthMiddleware struct {
	authClient *auth.Client
}

func NewAuthMiddleware(ctx context.Context, projectID string) (*AuthMiddleware, error) {
	if projectID == "" {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "FIREBASE_PROJECT_ID is not set")
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{authClient: client}, nil
}

func (m *AuthMiddleware) verify(c echo.Context) (bool, error) {
	authz := c.Request().Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return false, nil
	}
	tokenStr := strings.TrimPrefix(authz, "Bearer ")
	token, err := m.authClient.VerifyIDToken(c.Request().Context(), tokenStr)
	if err != nil {
		return false, err
	}
	c.Set(ContextUID, token.UID)
	if role, ok := token.Claims["role"].(string); ok {
		c.Set(ContextRole, role)
	}
	return true, nil
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, err := m.verify(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		}
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (m *AuthMiddleware) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := m.verify(c); err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		}
		return next(c)
	}
}

// HeaderAuth trusts X-User-Id / X-User-Role. It is meant for local runs and
// deployments behind a gateway that has already authenticated the caller.
type HeaderAuth struct{}

func (HeaderAuth) load(c echo.Context) bool {
	uid := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if uid == "" {
		return false
	}
	c.Set(ContextUID, uid)
	if role := strings.TrimSpace(c.Request().Header.Get(HeaderUserRole)); role != "" {
		c.Set(ContextRole, role)
	}
	return true
}

func (h HeaderAuth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.load(c) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (h HeaderAuth) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h.load(c)
		return next(c)
	}
}

// RequireRole rejects callers whose role is not in roles. It must run after
// an Authenticator.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(ContextRole).(string)
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}
	}
}
