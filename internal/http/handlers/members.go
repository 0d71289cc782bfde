package handlers

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"

	dbpkg "reportinsight/internal/db"
	"reportinsight/internal/kpi"
	"reportinsight/internal/store"
)

type metricsView struct {
	AuthorID            string       `json:"author_id"`
	Role                string       `json:"role,omitempty"`
	TotalReports        int64        `json:"total_reports"`
	AvgLength           float64      `json:"avg_length"`
	TaskCounts          dbpkg.Counts `json:"task_counts"`
	SuspiciousCount     int64        `json:"suspicious_count"`
	DuplicateCount      int64        `json:"duplicate_count"`
	ApprovedCount       int64        `json:"approved_count"`
	RejectedCount       int64        `json:"rejected_count"`
	ApprovedConversions dbpkg.Counts `json:"approved_conversions"`
	TypeDiversity       int          `json:"type_diversity"`
	FirstReportAt       string       `json:"first_report_at"`
	LastReportAt        string       `json:"last_report_at"`
}

type memberView struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	JoinedAt    string `json:"joined_at"`
}

type summaryView struct {
	Metrics       metricsView     `json:"metrics"`
	Member        *memberView     `json:"member,omitempty"`
	KPI           float64         `json:"kpi"`
	Quota         kpi.QuotaStatus `json:"quota"`
	RecentReports []reportView    `json:"recent_reports"`
}

// UserSummary serves GET /v1/users/{id}/summary: aggregates, KPI, quota status and
// the latest reports, ?recent= of them.
func UserSummary(k *kpi.Engine) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sum, err := k.UserSummary(ctx, pathParam(ctx, "id"), queryInt(ctx, "recent", kpi.DefaultRecentReports))
		if err != nil {
			writeError(ctx, err)
			return
		}

		loc := k.Location()
		m := sum.Metrics
		view := summaryView{
			Metrics: metricsView{
				AuthorID:            m.AuthorID,
				Role:                m.Role,
				TotalReports:        m.TotalReports,
				AvgLength:           m.AvgLength,
				TaskCounts:          m.TaskCounts.Data(),
				SuspiciousCount:     m.SuspiciousCount,
				DuplicateCount:      m.DuplicateCount,
				ApprovedCount:       m.ApprovedCount,
				RejectedCount:       m.RejectedCount,
				ApprovedConversions: m.ApprovedConversions.Data(),
				TypeDiversity:       m.TypeDiversity(),
				FirstReportAt:       formatTime(m.FirstReportAt, loc),
				LastReportAt:        formatTime(m.LastReportAt, loc),
			},
			KPI:           sum.KPI,
			Quota:         sum.Quota,
			RecentReports: newReportViews(sum.RecentReports, loc),
		}
		if sum.Member != nil {
			view.Member = &memberView{
				ID:          sum.Member.ID,
				Username:    sum.Member.Username,
				DisplayName: sum.Member.DisplayName,
				JoinedAt:    formatTime(sum.Member.JoinedAt, loc),
			}
		}
		jsonResponse(ctx, fasthttp.StatusOK, view)
	}
}

// SetRole serves PUT /v1/users/{id}/role with body {"role": "..."}.
func SetRole(st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		role := strings.TrimSpace(strings.ToLower(req.Role))
		if !kpi.ValidRole(role) {
			errResponse(ctx, fasthttp.StatusBadRequest, "unknown role")
			return
		}

		id := pathParam(ctx, "id")
		if err := st.SetRole(ctx, id, role); err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"author_id": id, "role": role})
	}
}

type heatCellView struct {
	AuthorID string `json:"author_id"`
	Day      int    `json:"day"`
	Hour     int    `json:"hour"`
	Count    int64  `json:"count"`
}

// Heatmap serves the weekday/hour activity grid, for ?author= or everyone.
func Heatmap(st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cells, err := st.GetHeatmap(ctx, string(ctx.QueryArgs().Peek("author")))
		if err != nil {
			writeError(ctx, err)
			return
		}
		out := make([]heatCellView, 0, len(cells))
		for _, c := range cells {
			out = append(out, heatCellView{AuthorID: c.AuthorID, Day: c.Day, Hour: c.Hour, Count: c.Count})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"cells": out})
	}
}
