package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// The relay's API is read by a browser UI; headers beyond these are
// never sent.
var (
	corsMethods = strings.Join([]string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{
		echo.HeaderOrigin,
		echo.HeaderContentType,
		echo.HeaderAccept,
		echo.HeaderAuthorization,
	}, ", ")
)

// CORS allows cross-origin reads from the given origins ("*" for any).
func CORS(allowOrigins []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get("Origin")

			allowed := ""
			for _, o := range allowOrigins {
				if o == "*" || o == origin {
					allowed = o
					break
				}
			}
			if allowed == "" {
				return next(c)
			}
			if allowed == "*" && origin != "" {
				allowed = origin
			}

			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
