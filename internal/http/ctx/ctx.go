package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "reportinsight/internal/db"
)

const (
	ManagerKey   = "manager"
	SourceKeyKey = "sourceKey"
)

func SetManager(ctx *fasthttp.RequestCtx, m *dbpkg.Manager) {
	ctx.SetUserValue(ManagerKey, m)
}

func ManagerFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.Manager, bool) {
	v := ctx.UserValue(ManagerKey)
	if v == nil {
		return nil, false
	}
	m, ok := v.(*dbpkg.Manager)
	return m, ok && m != nil
}

func SetSourceKey(ctx *fasthttp.RequestCtx, key *dbpkg.SourceKey) {
	ctx.SetUserValue(SourceKeyKey, key)
}

func SourceKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.SourceKey, bool) {
	v := ctx.UserValue(SourceKeyKey)
	if v == nil {
		return nil, false
	}
	sk, ok := v.(*dbpkg.SourceKey)
	return sk, ok && sk != nil
}
