package main

import (
	"context"
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"reportinsight/internal/config"
	"reportinsight/internal/db"
	"reportinsight/internal/engine"
	"reportinsight/internal/http/handlers"
	appmw "reportinsight/internal/http/middleware"
	"reportinsight/internal/kpi"
	"reportinsight/internal/logger"
	"reportinsight/internal/metrics"
	"reportinsight/internal/notify"
	"reportinsight/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer lg.Sync()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		lg.Fatal("failed to connect database", "error", err)
	}

	if err := db.EnsureBootstrapManager(sqlDB, cfg); err != nil {
		lg.Fatal("failed to ensure bootstrap manager", "error", err)
	}
	if cfg.BootstrapSourceKey != "" {
		if err := db.EnsureBootstrapSourceKey(sqlDB, cfg); err != nil {
			lg.Warn("failed to ensure bootstrap source key", "error", err)
		} else {
			lg.Info("bootstrap source key configured", "source", cfg.BootstrapSourceName)
		}
	}

	metrics.Register()

	loc := cfg.Location()
	st := store.New(sqlDB, loc)

	sinks, telegram := buildSinks(cfg, lg)
	mgr := engine.NewManager(st, notify.NewMulti(lg, sinks...), lg, engine.Options{
		MinReportLength:   cfg.MinReportLength,
		IdempotencyWindow: cfg.IdempotencyWindow,
		ConversionTypes:   cfg.ConversionTypes,
	})
	kpiEngine := kpi.New(st, kpi.Options{
		Weights: kpi.Weights{
			Approved:  cfg.KPIApprovedWeight,
			Duplicate: cfg.KPIDuplicateWeight,
			Rejected:  cfg.KPIRejectedWeight,
		},
		ConversionTypes: cfg.ConversionTypes,
	})

	db.StartArchiveWorker(sqlDB, cfg.ArchiveDays, lg)
	db.StartSnapshotWorker(sqlDB, loc, kpiEngine.SnapshotDay, lg)

	r := newRouter(cfg, sqlDB, st, mgr, kpiEngine, telegram, lg)

	// Global middleware chain: request logger, then request metrics, then router
	handler := appmw.RequestLogger(lg)(appmw.RequestMetrics(r.Handler))

	lg.Info("reportinsight listening", "addr", cfg.ListenAddr, "timezone", loc.String())
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		lg.Fatal("server error", "error", err)
	}
}

// buildSinks returns the configured notification sinks, falling back to the
// log sink when none is set. The Telegram client is also returned for the
// webhook's direct replies.
func buildSinks(cfg *config.Config, lg *logger.Logger) ([]notify.Sink, *notify.Telegram) {
	var (
		sinks    []notify.Sink
		telegram *notify.Telegram
	)
	if cfg.TelegramBotToken != "" {
		telegram = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID, lg)
		sinks = append(sinks, telegram)
	}
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			lg.Warn("amqp notifications disabled", "error", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	if cfg.RedisAddr != "" {
		rdb, err := notify.NewRedis(context.Background(), cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			lg.Warn("redis notifications disabled", "error", err)
		} else {
			sinks = append(sinks, rdb)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.NewLog(lg))
	}
	return sinks, telegram
}

func newRouter(cfg *config.Config, sqlDB *gorm.DB, st *store.Store, mgr *engine.Manager, k *kpi.Engine, telegram *notify.Telegram, lg *logger.Logger) *router.Router {
	r := router.New()
	r.SaveMatchedRoutePath = true

	auth := appmw.ManagerAuth(sqlDB)
	admin := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return auth(appmw.RequireAdmin(h))
	}

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	// Ingestion
	r.POST("/v1/reports", appmw.BearerAuth(sqlDB)(handlers.SubmitReport(mgr, st)))
	if telegram != nil && cfg.TelegramWebhookSecret != "" {
		r.POST("/tg/{secret}", handlers.TelegramWebhook(cfg.TelegramWebhookSecret, mgr, telegram, lg))
	}

	// Review
	r.GET("/v1/reports/pending", auth(handlers.PendingReports(st)))
	r.GET("/v1/conversion-types", auth(handlers.ConversionTypes(mgr)))
	r.POST("/v1/reports/{id}/approve", auth(handlers.ReviewReport(mgr, st, engine.ActionApprove)))
	r.POST("/v1/reports/{id}/reject", auth(handlers.ReviewReport(mgr, st, engine.ActionReject)))

	// Members and analytics
	r.GET("/v1/users/{id}/summary", auth(handlers.UserSummary(k)))
	r.PUT("/v1/users/{id}/role", auth(handlers.SetRole(st)))
	r.GET("/v1/heatmap", auth(handlers.Heatmap(st)))
	r.GET("/v1/leaderboard", auth(handlers.Leaderboard(k)))
	r.GET("/v1/growth/{metric}", auth(handlers.Growth(k)))
	r.GET("/v1/kpi/snapshots", auth(handlers.Snapshots(k)))

	r.POST("/v1/feedback", auth(handlers.SendFeedback(mgr, st)))
	r.GET("/v1/feedback", auth(handlers.ListFeedback(st)))

	// Administration
	r.POST("/v1/me/password", auth(handlers.ChangePasswordSelf(sqlDB, cfg)))
	r.POST("/v1/admin/managers", admin(handlers.CreateManager(sqlDB)))
	r.POST("/v1/admin/managers/{id}/reset-password", admin(handlers.ResetPassword(sqlDB, cfg)))
	r.DELETE("/v1/admin/managers/{id}", admin(handlers.DeleteManager(sqlDB, cfg)))

	r.GET("/v1/source-keys", auth(handlers.ListSourceKeys(sqlDB)))
	r.POST("/v1/source-keys", auth(handlers.CreateSourceKey(sqlDB)))
	r.POST("/v1/source-keys/{id}/active", auth(handlers.SetSourceKeyActive(sqlDB)))
	r.DELETE("/v1/source-keys/{id}", auth(handlers.DeleteSourceKey(sqlDB, cfg)))

	r.GET("/v1/metrics", handlers.SourceMetricsHandler(sqlDB, nil))

	return r
}
