package middleware

import (
	"time"

	applogger "SignalRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one structured line per request.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			if l != nil {
				req := c.Request()
				l.Info("http request",
					applogger.String("method", req.Method),
					applogger.String("path", req.RequestURI),
					applogger.Int("status", c.Response().Status),
					applogger.Duration("latency_ms", time.Since(start)),
					applogger.String("remote", req.RemoteAddr),
				)
			}
			return err
		}
	}
}
