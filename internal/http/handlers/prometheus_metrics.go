package handlers

import (
	"bytes"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "reportinsight/internal/db"
	"reportinsight/internal/metrics"
)

// SourceMetricsHandler serves the Prometheus registry scoped to one
// ingestion channel. The caller passes its source key as ?source-key=;
// series carrying a source label are kept only for that key's channel,
// series without one are passed through.
func SourceMetricsHandler(db *gorm.DB, gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return func(ctx *fasthttp.RequestCtx) {
		keyValue := string(ctx.QueryArgs().Peek("source-key"))
		if keyValue == "" {
			errResponse(ctx, fasthttp.StatusUnauthorized, "missing source-key query parameter")
			return
		}

		var key dbpkg.SourceKey
		if err := db.Where("key = ? AND active = ?", keyValue, true).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errResponse(ctx, fasthttp.StatusUnauthorized, "invalid source key")
				return
			}
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "database error")
			return
		}

		families, err := gatherer.Gather()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to gather metrics")
			return
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range filterBySource(families, key.Name) {
			if err := encoder.Encode(mf); err != nil {
				errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func hasSourceLabel(mf *dto.MetricFamily) bool {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == metrics.SourceLabel {
				return true
			}
		}
	}
	return false
}

func filterBySource(families []*dto.MetricFamily, source string) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		if !hasSourceLabel(mf) {
			out = append(out, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == metrics.SourceLabel && l.GetValue() == source {
					kept = append(kept, m)
					break
				}
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Unit:   mf.Unit,
			Metric: kept,
		})
	}
	return out
}
