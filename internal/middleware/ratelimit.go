package middleware

import (
	"errors"
	"strconv"
	"time"

	drepo "LendPulse/internal/domain/repository"
	"LendPulse/internal/service/ratelimit"
	apphttp "LendPulse/pkg/http"
	pkgmw "LendPulse/pkg/http/middleware"
	"LendPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Rule is the budget for one action.
type Rule struct {
	Limit  int
	Window time.Duration
}

// RuleFunc resolves the rule for an action.
type RuleFunc func(action string) Rule

// RateLimiter guards routes with a ratelimit.Limiter. It fails closed: when the
// counter store is unreachable requests are rejected with 503.
type RateLimiter struct {
	limiter ratelimit.Limiter
	rules   RuleFunc
	metrics drepo.Metrics
	logger  *logger.Logger
}

// NewRateLimiter creates the middleware factory.
func NewRateLimiter(l ratelimit.Limiter, rules RuleFunc, m drepo.Metrics, lgr *logger.Logger) *RateLimiter {
	if m == nil {
		m = drepo.NopMetrics{}
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &RateLimiter{limiter: l, rules: rules, metrics: m, logger: lgr}
}

// For returns middleware that charges one request against action.
func (r *RateLimiter) For(action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rule := r.rules(action)
			id := Identity(c)

			res, err := r.limiter.Consume(c.Request().Context(), id, action, rule.Limit, rule.Window)
			if err != nil {
				r.metrics.RecordRateLimit(action, false)

				var exceeded *ratelimit.ExceededError
				if errors.As(err, &exceeded) {
					setWindowHeaders(c, exceeded.Result)
					return apphttp.AppErrorResponse(c,
						apphttp.TooManyRequestsError("rate limit exceeded", exceeded.RetryAfterSeconds()).
							WithParam("action", action).
							WithParam("limit", rule.Limit))
				}

				r.logger.Error("rate limit backend failed",
					logger.String("action", action),
					logger.String("identifier", id),
					logger.Error(err),
				)
				retry := int(rule.Window.Seconds())
				if retry < 1 {
					retry = 1
				}
				return apphttp.AppErrorResponse(c,
					apphttp.ServiceUnavailableError("rate limiting unavailable").WithRetryAfter(retry))
			}

			r.metrics.RecordRateLimit(action, true)
			setWindowHeaders(c, res)
			return next(c)
		}
	}
}

// Identity is the caller id header when present, otherwise the client IP.
func Identity(c echo.Context) string {
	if id := c.Request().Header.Get(pkgmw.HeaderCallerID); id != "" {
		return "caller:" + id
	}
	return "ip:" + c.RealIP()
}

func setWindowHeaders(c echo.Context, res ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(int64((res.ResetIn+time.Second-1)/time.Second), 10))
}
