package middleware

import (
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"reportinsight/internal/logger"
	"reportinsight/internal/metrics"
)

// RequestMetrics records a request counter and latency histogram per
// matched route. The router must run with SaveMatchedRoutePath enabled;
// unmatched paths are counted under "unmatched".
func RequestMetrics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		duration := time.Since(start)

		route := matchedRoute(ctx)
		if route == "/v1/metrics" || route == "/healthz" {
			return
		}

		method := string(ctx.Method())
		metrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(ctx.Response.StatusCode())).Inc()
		metrics.HTTPDuration.WithLabelValues(route, method).Observe(duration.Seconds())
	}
}

// matchedRoute is the route pattern the router matched, e.g. /tg/{secret},
// or "unmatched". Raw paths can carry secrets and are never reported.
func matchedRoute(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok && v != "" {
		return v
	}
	return "unmatched"
}

// RequestLogger logs method, matched route, status and duration of every
// request.
func RequestLogger(log *logger.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			log.Info("request",
				"method", string(ctx.Method()),
				"route", matchedRoute(ctx),
				"status", ctx.Response.StatusCode(),
				"duration", time.Since(start).String(),
				"ip", ctx.RemoteIP().String(),
			)
		}
	}
}
