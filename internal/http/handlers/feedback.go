package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"reportinsight/internal/engine"
	"reportinsight/internal/store"
)

type feedbackView struct {
	ID        uint   `json:"id"`
	AuthorID  string `json:"author_id"`
	Manager   string `json:"manager"`
	Message   string `json:"message"`
	Delivered bool   `json:"delivered"`
	CreatedAt string `json:"created_at"`
}

// SendFeedback serves POST /v1/feedback with {"author_id", "message"}.
// Delivery happens in the background; the response carries the stored row.
func SendFeedback(mgr *engine.Manager, st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		manager, ok := MustManager(ctx)
		if !ok {
			return
		}
		var req struct {
			AuthorID string `json:"author_id"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		fb, err := mgr.SendFeedback(ctx, req.AuthorID, manager.Username, req.Message)
		if err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusAccepted, feedbackView{
			ID:        fb.ID,
			AuthorID:  fb.AuthorID,
			Manager:   fb.Manager,
			Message:   fb.Message,
			Delivered: fb.Delivered,
			CreatedAt: formatTime(fb.CreatedAt, st.Location()),
		})
	}
}

// ListFeedback serves GET /v1/feedback?author=&limit=.
func ListFeedback(st *store.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		author := string(ctx.QueryArgs().Peek("author"))
		if author == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "author required")
			return
		}
		rows, err := st.ListFeedback(ctx, author, queryInt(ctx, "limit", 50))
		if err != nil {
			writeError(ctx, err)
			return
		}
		out := make([]feedbackView, 0, len(rows))
		for _, f := range rows {
			out = append(out, feedbackView{
				ID:        f.ID,
				AuthorID:  f.AuthorID,
				Manager:   f.Manager,
				Message:   f.Message,
				Delivered: f.Delivered,
				CreatedAt: formatTime(f.CreatedAt, st.Location()),
			})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"feedback": out})
	}
}
