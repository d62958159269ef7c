package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louisbranch/cardtable/internal/platform/id"
	"github.com/louisbranch/cardtable/internal/platform/requestctx"
)

const headerRequestID = "X-Request-Id"

// RequestIDMiddleware ensures every request carries an X-Request-Id, both on
// the response and in the request context.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(headerRequestID)
			if requestID == "" {
				generated, err := id.NewID()
				if err != nil {
					return err
				}
				requestID = generated
			}
			c.Response().Header().Set(headerRequestID, requestID)
			req := c.Request()
			c.SetRequest(req.WithContext(requestctx.WithRequestID(req.Context(), requestID)))
			return next(c)
		}
	}
}

// LoggingMiddleware logs each request once it completes.
func LoggingMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("request",
				zap.String("request_id", requestctx.RequestIDFromContext(c.Request().Context())),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
			)
			return err
		}
	}
}
