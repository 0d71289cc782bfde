package handlers

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"

	"reportinsight/internal/engine"
	httpctx "reportinsight/internal/http/ctx"
	"reportinsight/internal/store"
)

type submitRequest struct {
	AuthorID    string `json:"author_id"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
}

// SubmitReport accepts one report from an ingestion channel. The source
// channel is the name of the bearer key.
func SubmitReport(mgr *engine.Manager, st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req submitRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		ts, ok := parseTimestamp(strings.TrimSpace(req.Timestamp))
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "timestamp must be RFC 3339 or Unix seconds")
			return
		}

		source := ""
		if key, ok := httpctx.SourceKeyFromCtx(ctx); ok {
			source = key.Name
		}

		report, err := mgr.Submit(ctx, engine.Submission{
			AuthorID:    req.AuthorID,
			Text:        req.Text,
			Timestamp:   ts,
			Source:      source,
			Username:    req.Username,
			DisplayName: req.DisplayName,
			ChatID:      req.ChatID,
		})
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, map[string]any{"report": newReportView(report, st.Location())})
	}
}

// ReviewReport applies action to the report named by the {id} path
// parameter. Approvals take an optional corrections body.
func ReviewReport(mgr *engine.Manager, st *store.Store, action engine.Action) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		manager, ok := MustManager(ctx)
		if !ok {
			return
		}

		var corrections *engine.Corrections
		if body := ctx.PostBody(); action == engine.ActionApprove && len(strings.TrimSpace(string(body))) > 0 {
			corrections = &engine.Corrections{}
			if err := json.Unmarshal(body, corrections); err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		report, err := mgr.Review(ctx, pathParam(ctx, "id"), action, corrections, manager.Username)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"report": newReportView(report, st.Location())})
	}
}

// PendingReports lists the review queue, optionally for one source.
func PendingReports(st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		source := string(ctx.QueryArgs().Peek("source"))
		limit := queryInt(ctx, "limit", 100)
		if limit > 500 {
			limit = 500
		}
		reports, err := st.PendingReports(ctx, source, limit)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"reports": newReportViews(reports, st.Location())})
	}
}

// ConversionTypes lists the counters a reviewer may fill in on approval.
func ConversionTypes(mgr *engine.Manager) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"conversion_types": mgr.ConversionTypes()})
	}
}
