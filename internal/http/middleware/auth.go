package middleware

import (
	"bytes"
	"errors"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "reportinsight/internal/db"
	httpctx "reportinsight/internal/http/ctx"
)

// BearerAuth admits requests carrying an active source key as a Bearer
// token and puts the key on the context. Its Name becomes the report source.
func BearerAuth(db *gorm.DB) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token, problem := bearerToken(ctx.Request.Header.Peek("Authorization"))
			if problem != "" {
				deny(ctx, fasthttp.StatusUnauthorized, problem)
				return
			}

			var key dbpkg.SourceKey
			err := db.Where("key = ? AND active = ?", token, true).Preload("Manager").First(&key).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				deny(ctx, fasthttp.StatusUnauthorized, "invalid source key")
				return
			case err != nil:
				deny(ctx, fasthttp.StatusServiceUnavailable, "database error")
				return
			}

			httpctx.SetSourceKey(ctx, &key)
			next(ctx)
		}
	}
}

// bearerToken extracts the token from an Authorization header value. The
// second result names the problem when there is no usable token.
func bearerToken(header []byte) (string, string) {
	if len(header) == 0 {
		return "", "missing Authorization header"
	}
	rest, ok := bytes.CutPrefix(header, []byte("Bearer "))
	if !ok {
		return "", "invalid Authorization header"
	}
	if token := bytes.TrimSpace(rest); len(token) > 0 {
		return string(token), ""
	}
	return "", "empty bearer token"
}

func deny(ctx *fasthttp.RequestCtx, status int, msg string) {
	ctx.SetStatusCode(status)
	ctx.SetBodyString(msg)
}
