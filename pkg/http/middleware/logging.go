package middleware

import (
	"time"

	"LendPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HeaderCallerID identifies the caller for rate limiting and logs.
const HeaderCallerID = "X-Caller-ID"

// RequestLogging logs HTTP requests. 5xx responses are logged as errors and
// requests slower than slow as warnings.
func RequestLogging(lgr *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", c.Path()),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Duration("latency", latency),
			}
			if id := req.Header.Get(HeaderCallerID); id != "" {
				fields = append(fields, logger.String("caller", id))
			}

			switch {
			case res.Status >= 500:
				lgr.Error("http request failed", fields...)
			case slow > 0 && latency >= slow:
				lgr.Warn("http request slow", fields...)
			default:
				lgr.Debug("http request", fields...)
			}
			return nil
		}
	}
}
