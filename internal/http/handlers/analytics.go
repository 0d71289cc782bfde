package handlers

import (
	"github.com/valyala/fasthttp"

	"reportinsight/internal/kpi"
)

func resolveWindow(ctx *fasthttp.RequestCtx, k *kpi.Engine) (kpi.Window, error) {
	args := ctx.QueryArgs()
	return k.ResolvePeriod(
		string(args.Peek("period")),
		string(args.Peek("start")),
		string(args.Peek("end")),
	)
}

// Leaderboard serves GET /v1/leaderboard?period=&start=&end=&limit=.
func Leaderboard(k *kpi.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		w, err := resolveWindow(ctx, k)
		if err != nil {
			writeError(ctx, err)
			return
		}
		entries, err := k.Leaderboard(ctx, w, queryInt(ctx, "limit", kpi.DefaultLeaderboardLimit))
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"window": w, "entries": entries})
	}
}

// Growth serves GET /v1/growth/{metric} over the same period arguments.
func Growth(k *kpi.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		w, err := resolveWindow(ctx, k)
		if err != nil {
			writeError(ctx, err)
			return
		}
		metric := pathParam(ctx, "metric")
		points, err := k.Growth(ctx, metric, w)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"metric": metric, "window": w, "points": points})
	}
}

// Snapshots serves the stored KPI snapshots of ?day= (default yesterday).
func Snapshots(k *kpi.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		day := string(ctx.QueryArgs().Peek("day"))
		if day == "" {
			w, err := k.ResolvePeriod("yesterday", "", "")
			if err != nil {
				writeError(ctx, err)
				return
			}
			day = w.Start
		}
		rows, err := k.Snapshots(ctx, day)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"day": day, "snapshots": rows})
	}
}
