package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"reportinsight/internal/config"
	dbpkg "reportinsight/internal/db"
)

type managerView struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateManager adds a reviewer account. Admin only.
func CreateManager(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		username := strings.TrimSpace(string(ctx.PostArgs().Peek("username")))
		password := string(ctx.PostArgs().Peek("password"))
		isAdmin := string(ctx.PostArgs().Peek("is_admin")) == "true"

		if username == "" || password == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "username and password required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to hash password")
			return
		}

		m := &dbpkg.Manager{
			Username:     username,
			PasswordHash: string(hash),
			IsAdmin:      isAdmin,
		}
		if err := db.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				errResponse(ctx, fasthttp.StatusConflict, "username already exists")
				return
			}
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to create manager")
			return
		}

		jsonResponse(ctx, fasthttp.StatusCreated, managerView{ID: m.ID, Username: m.Username, IsAdmin: m.IsAdmin})
	}
}

// ResetPassword sets a new password for the manager named by {id}. The
// bootstrap manager is managed through the environment only.
func ResetPassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		m, ok := loadManager(ctx, db, cfg)
		if !ok {
			return
		}

		password := string(ctx.PostArgs().Peek("password"))
		if password == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "password required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := db.Model(m).Update("password_hash", string(hash)).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to update password")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

func DeleteManager(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		m, ok := loadManager(ctx, db, cfg)
		if !ok {
			return
		}
		if err := db.Delete(m).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to delete manager")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

// loadManager resolves {id} to a manager row other than the bootstrap one.
// On failure the response is already written.
func loadManager(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config) (*dbpkg.Manager, bool) {
	id, err := strconv.ParseUint(pathParam(ctx, "id"), 10, 32)
	if err != nil {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid manager ID")
		return nil, false
	}

	var m dbpkg.Manager
	if err := db.First(&m, id).Error; err != nil {
		writeError(ctx, err)
		return nil, false
	}
	if m.Username == cfg.ManagerUser {
		errResponse(ctx, fasthttp.StatusForbidden, "cannot modify bootstrap manager")
		return nil, false
	}
	return &m, true
}

// ChangePasswordSelf lets the authenticated manager rotate their own
// password. Form fields: current_password, new_password.
func ChangePasswordSelf(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		m, ok := MustManager(ctx)
		if !ok {
			return
		}
		if m.Username == cfg.ManagerUser {
			errResponse(ctx, fasthttp.StatusForbidden, "cannot change password for bootstrap manager")
			return
		}

		current := string(ctx.PostArgs().Peek("current_password"))
		newPassword := string(ctx.PostArgs().Peek("new_password"))
		if current == "" || newPassword == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "current_password and new_password required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(current)); err != nil {
			errResponse(ctx, fasthttp.StatusUnauthorized, "current password is incorrect")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := db.Model(&dbpkg.Manager{}).Where("id = ?", m.ID).Update("password_hash", string(hash)).Error; err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "failed to update password")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}
