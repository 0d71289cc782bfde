package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"reportinsight/internal/config"
	dbpkg "reportinsight/internal/db"
)

type sourceKeyView struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Key    string `json:"key,omitempty"`
	Active bool   `json:"active"`
}

func generateSourceKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "ri_" + base64.URLEncoding.EncodeToString(b), nil
}

// CreateSourceKey issues a bearer key for the ingestion channel given by
// the "name" form field. The key value is only returned here.
func CreateSourceKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		name := strings.TrimSpace(strings.ToLower(string(ctx.PostArgs().Peek("name"))))
		if name == "" || len(name) > 64 {
			errResponse(ctx, fasthttp.StatusBadRequest, "name required (max 64 chars)")
			return
		}

		manager, ok := MustManager(ctx)
		if !ok {
			return
		}
		key, err := generateSourceKey()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to generate key")
			return
		}

		sk := &dbpkg.SourceKey{
			ManagerID: manager.ID,
			Name:      name,
			Key:       key,
			Active:    true,
		}
		if err := db.Create(sk).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to create source key")
			return
		}

		jsonResponse(ctx, fasthttp.StatusCreated, sourceKeyView{ID: sk.ID, Name: sk.Name, Key: sk.Key, Active: sk.Active})
	}
}

// ListSourceKeys lists keys without their secret values.
func ListSourceKeys(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var keys []dbpkg.SourceKey
		if err := db.Order("name, id").Find(&keys).Error; err != nil {
			writeError(ctx, err)
			return
		}
		out := make([]sourceKeyView, 0, len(keys))
		for _, k := range keys {
			out = append(out, sourceKeyView{ID: k.ID, Name: k.Name, Active: k.Active})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"keys": out})
	}
}

func DeleteSourceKey(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sk, ok := loadSourceKey(ctx, db)
		if !ok {
			return
		}
		if cfg.BootstrapSourceKey != "" && sk.Key == cfg.BootstrapSourceKey {
			errResponse(ctx, fasthttp.StatusForbidden, "cannot delete bootstrap source key")
			return
		}
		if err := db.Delete(sk).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to delete source key")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

// SetSourceKeyActive toggles a key with the "active" form field.
func SetSourceKeyActive(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		activeStr := string(ctx.PostArgs().Peek("active"))
		if activeStr != "true" && activeStr != "false" {
			errResponse(ctx, fasthttp.StatusBadRequest, "active (true|false) required")
			return
		}
		sk, ok := loadSourceKey(ctx, db)
		if !ok {
			return
		}
		active := activeStr == "true"
		if err := db.Model(sk).Update("active", active).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to update source key")
			return
		}
		sk.Active = active
		jsonResponse(ctx, fasthttp.StatusOK, sourceKeyView{ID: sk.ID, Name: sk.Name, Active: sk.Active})
	}
}

// loadSourceKey resolves {id}. Non-admin managers only see their own keys.
func loadSourceKey(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.SourceKey, bool) {
	manager, ok := MustManager(ctx)
	if !ok {
		return nil, false
	}
	id, err := strconv.ParseUint(pathParam(ctx, "id"), 10, 32)
	if err != nil {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid key ID")
		return nil, false
	}

	var sk dbpkg.SourceKey
	if err := db.First(&sk, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			errResponse(ctx, fasthttp.StatusNotFound, "source key not found")
			return nil, false
		}
		writeError(ctx, err)
		return nil, false
	}
	if sk.ManagerID != manager.ID && !manager.IsAdmin {
		errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
		return nil, false
	}
	return &sk, true
}
