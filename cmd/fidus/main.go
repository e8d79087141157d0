package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"fidus/internal/cache"
	"fidus/internal/classifier"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/config"
	cronrunner "fidus/internal/cron"
	"fidus/internal/db"
	"fidus/internal/handler"
	"fidus/internal/logger"
	"fidus/internal/rebate"
	"fidus/internal/repository"
	gormrepository "fidus/internal/repository/gorm"
	memoryrepository "fidus/internal/repository/memory"
	"fidus/internal/service"

	_ "fidus/docs"
)

func main() {
	cfgPath := os.Getenv("FIDUS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FIDUS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, closeStore := openRepository(cfg.DB, logger)
	defer closeStore()

	liveCache, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	if rs, ok := liveCache.(*cache.RedisStore); ok {
		defer rs.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
		cancel()
	}

	timeout := cfg.Bridge.Timeout
	if timeout <= 0 {
		timeout = mt5bridge.DefaultTimeout
	}
	bridge := &mt5bridge.Client{
		BaseURL:              cfg.Bridge.BaseURL,
		APIKey:               cfg.Bridge.APIKey,
		HTTP:                 &http.Client{Timeout: timeout},
		Logger:               logger,
		MaxRetries:           cfg.Bridge.MaxRetries,
		RetryInitialInterval: cfg.Bridge.RetryInitialInterval,
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	dealClassifier, err := classifier.New(classifier.DefaultRules())
	if err != nil {
		logger.Fatal("classifier init failed", zap.Error(err))
	}
	syncSvc := &service.AccountSyncService{
		Repo:       store,
		Bridge:     bridge,
		Classifier: dealClassifier,
		Config:     cfg.Sync,
		Logger:     logger,
		Flags:      settingsSvc,
	}
	accountSvc := &service.AccountService{
		Repo:     store,
		Bridge:   bridge,
		Cache:    liveCache,
		CacheTTL: cfg.Cache.TTL,
		Logger:   logger,
		Flags:    settingsSvc,
	}
	calculator := &rebate.Calculator{Repo: store, Logger: logger}
	rebateJob := &service.RebateJob{
		Repo:       store,
		Calculator: calculator,
		Config:     cfg.Rebate,
		Logger:     logger,
		Flags:      settingsSvc,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(handler.CORS())
	engine.Use(handler.WriteAudit(logger))

	healthHandler := &handler.HealthHandler{Store: store, Checks: map[string]handler.Pinger{}}
	if rs, ok := liveCache.(*cache.RedisStore); ok {
		healthHandler.Checks["cache"] = rs
	}
	healthHandler.Register(engine)
	accountsHandler := &handler.AccountsHandler{Repo: store, Accounts: accountSvc, Sync: syncSvc}
	accountsHandler.Register(engine)
	pnlHandler := &handler.PnLHandler{Repo: store}
	pnlHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Repo: store, Sync: syncSvc}
	syncHandler.Register(engine)
	rebatesHandler := &handler.RebatesHandler{Repo: store, Calculator: calculator, Job: rebateJob}
	rebatesHandler.Register(engine)
	rebateConfigs := &handler.RebateConfigsHandler{Repo: store}
	rebateConfigs.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/swagger/index.html")
	})

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add("account_sync", cfg.Cron.AccountSync, syncSvc.RunIfEnabled); err != nil {
			logger.Fatal("cron register account sync failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("rebate_calc", cfg.Cron.RebateCalc, rebateJob.RunIfEnabled); err != nil {
			logger.Fatal("cron register rebate calc failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr), zap.String("db", cfg.DB.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// openRepository returns the configured store and its close func. The memory
// driver keeps everything in-process and is meant for local runs.
func openRepository(cfg config.DBConfig, logger *zap.Logger) (repository.Repository, func()) {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), "memory") {
		logger.Warn("using in-memory store, data is lost on restart")
		return memoryrepository.New(), func() {}
	}
	dbConn, err := db.Open(cfg)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	return gormrepository.New(dbConn.Gorm), func() { _ = db.Close(dbConn) }
}
