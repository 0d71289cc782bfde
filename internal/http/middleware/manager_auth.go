package middleware

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	dbpkg "reportinsight/internal/db"
	httpctx "reportinsight/internal/http/ctx"
)

const realm = `Basic realm="reportinsight"`

// ManagerAuth checks HTTP Basic credentials against manager password hashes
// and puts the manager on the context.
func ManagerAuth(db *gorm.DB) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			username, password, ok := basicCredentials(ctx)
			if !ok {
				unauthorized(ctx)
				return
			}

			var manager dbpkg.Manager
			if err := db.Where("username = ?", username).First(&manager).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					unauthorized(ctx)
					return
				}
				deny(ctx, fasthttp.StatusServiceUnavailable, "database error")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(manager.PasswordHash), []byte(password)); err != nil {
				unauthorized(ctx)
				return
			}

			httpctx.SetManager(ctx, &manager)
			next(ctx)
		}
	}
}

// RequireAdmin rejects managers without the admin flag. It must run after
// ManagerAuth.
func RequireAdmin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		m, ok := httpctx.ManagerFromCtx(ctx)
		if !ok {
			unauthorized(ctx)
			return
		}
		if !m.IsAdmin {
			deny(ctx, fasthttp.StatusForbidden, "forbidden")
			return
		}
		next(ctx)
	}
}

func basicCredentials(ctx *fasthttp.RequestCtx) (string, string, bool) {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, pass, true
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("WWW-Authenticate", realm)
	deny(ctx, fasthttp.StatusUnauthorized, "unauthorized")
}
