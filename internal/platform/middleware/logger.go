package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

// Logger emits one structured line per request. Authenticated calls carry the
// acting user and role, so confirm/cancel/refund actions trace back to a
// person without a second lookup.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if actor := auth.ActorFromContext(req.Context()); actor.ID != uuid.Nil {
				evt = evt.Stringer("user_id", actor.ID).Str("role", actor.Role)
			}
			evt.Msg("request")

			return err
		}
	}
}
