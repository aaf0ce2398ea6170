package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/blogpulse/internal/config"
	"github.com/blogpulse/internal/db"
	"github.com/blogpulse/internal/handler"
	"github.com/blogpulse/internal/logger"
	"github.com/blogpulse/internal/metrics"
	"github.com/blogpulse/internal/middleware"
	"github.com/blogpulse/internal/router"
	"github.com/blogpulse/internal/service"
	"github.com/blogpulse/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// 本地开发时从 .env 读取配置，文件不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	cfg := config.Load()
	log := logger.SetupDefault(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	gin.SetMode(cfg.GinMode)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	admin := service.NewAdminService(db.DB)
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD is empty; comment deletion stays disabled until an admin exists")
	} else if err := admin.EnsureAdmin(cfg.AdminUserName, cfg.AdminPassword); err != nil {
		log.Error("failed to ensure admin account", slog.String("error", err.Error()))
		os.Exit(1)
	}

	remote := openRemote(cfg, log)
	if remote != nil {
		defer remote.Close()
	}

	var prober store.Prober
	if remote != nil {
		prober = remote
	}
	state := store.NewSelector(prober, cfg.RemoteProbeTimeout, log).Resolve(context.Background())
	log.Info("storage backend selected", slog.String("backend", state.Backend()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var remoteStore store.Store
	if remote != nil {
		remoteStore = remote
	}
	engagement := service.NewEngagementService(
		state,
		remoteStore,
		store.NewLocalStore(db.DB, log),
		admin,
		service.EngagementOptions{
			CommentLimit: cfg.CommentListLimit,
			DayLocation:  cfg.ViewDayLocation,
			Metrics:      metrics.NewCollector(reg),
			Logger:       log,
		},
	)

	commentCfg := middleware.CommentRateLimiterConfig(cfg.CommentRatePerMin, cfg.CommentRateBurst)
	commentCfg.Logger = log
	commentLimiter := middleware.NewRateLimiter(commentCfg)
	defer commentLimiter.Stop()

	adminCfg := middleware.AdminRateLimiterConfig(cfg.AdminRatePerMin, cfg.AdminRateBurst)
	adminCfg.Logger = log
	adminLimiter := middleware.NewRateLimiter(adminCfg)
	defer adminLimiter.Stop()

	api := handler.NewAPI(engagement, service.NewPostService(db.DB), admin, cfg.SiteBaseURL, log)
	r := router.SetupRouter(api, router.Options{
		SessionSecret:  cfg.SessionSecret,
		TrustedProxies: cfg.TrustedProxies,
		Gatherer:       reg,
		CommentLimiter: commentLimiter,
		AdminLimiter:   adminLimiter,
		Logger:         log,
	})

	log.Info("server starting", slog.String("addr", cfg.ListenAddr))
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Error("failed to run server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openRemote returns nil when no usable remote database is configured.
func openRemote(cfg config.AppConfig, log *slog.Logger) *store.RemoteStore {
	if store.IsPlaceholderURL(cfg.RemoteDatabaseURL) {
		log.Info("remote database not configured, using local storage")
		return nil
	}

	remote, err := store.OpenRemote(cfg.RemoteDatabaseURL)
	if err != nil {
		log.Warn("failed to open remote database", slog.String("error", err.Error()))
		return nil
	}

	if cfg.RemoteMigrate {
		if err := store.RunMigrations(cfg.RemoteDatabaseURL); err != nil {
			// 迁移失败不阻塞启动，探测会决定是否使用远程存储
			log.Warn("remote migrations failed", slog.String("error", err.Error()))
		}
	}
	return remote
}
