package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "reportinsight/internal/db"
	"reportinsight/internal/engine"
	httpctx "reportinsight/internal/http/ctx"
	"reportinsight/internal/kpi"
)

// MustManager returns the current manager from context, or sends 401 and
// returns (nil, false).
func MustManager(ctx *fasthttp.RequestCtx) (*dbpkg.Manager, bool) {
	m, ok := httpctx.ManagerFromCtx(ctx)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return m, true
}

func jsonResponse(ctx *fasthttp.RequestCtx, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode response")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// writeError maps engine, KPI and store errors onto status codes.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	var e *engine.Error
	if errors.As(err, &e) {
		status := fasthttp.StatusInternalServerError
		switch e.Kind {
		case engine.KindValidation:
			status = fasthttp.StatusBadRequest
		case engine.KindConflict:
			status = fasthttp.StatusConflict
		case engine.KindNotFound:
			status = fasthttp.StatusNotFound
		case engine.KindStoreUnavailable:
			status = fasthttp.StatusServiceUnavailable
		}
		body := map[string]string{"error": e.Msg}
		if e.ReportID != "" {
			body["report_id"] = e.ReportID
		}
		jsonResponse(ctx, status, body)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		errResponse(ctx, fasthttp.StatusNotFound, "not found")
	case errors.Is(err, kpi.ErrInvalidWindow), errors.Is(err, kpi.ErrUnknownPeriod), errors.Is(err, kpi.ErrUnknownMetric):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		errResponse(ctx, fasthttp.StatusServiceUnavailable, "storage unavailable")
	}
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

// queryInt reads a positive integer query argument, falling back to def.
func queryInt(ctx *fasthttp.RequestCtx, name string, def int) int {
	if raw := string(ctx.QueryArgs().Peek(name)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
