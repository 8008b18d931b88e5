package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/auth"
)

// identityKey is the echo context key holding the verified caller identity.
const identityKey = "embediq.identity"

// requireBearerToken authenticates the request and stores the caller
// identity in the request context. All /api/v1 routes sit behind it.
func (s *Server) requireBearerToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := auth.FromAuthorizationHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "bearer token required")
		}

		identity, err := s.deps.Verifier.Verify(c.Request().Context(), token)
		if err != nil {
			s.logger.Debug("token verification failed",
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(identityKey, identity)
		return next(c)
	}
}

// callerIdentity returns the identity stored by requireBearerToken.
func callerIdentity(c echo.Context) (*auth.Identity, error) {
	identity, ok := c.Get(identityKey).(*auth.Identity)
	if !ok || identity == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated identity")
	}
	return identity, nil
}
