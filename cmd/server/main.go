package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lucledger/internal/billing"
	"lucledger/internal/config"
	"lucledger/internal/database"
	"lucledger/internal/lock"
	"lucledger/internal/metering"
	"lucledger/internal/repository"
	"lucledger/internal/router"
	"lucledger/internal/service"
	"lucledger/internal/tracer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}
	defer db.Close()

	shutdownTracer, err := tracer.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("追踪初始化失败: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	prices := billing.NewPriceStore(repository.NewPricingRepository(db))
	if err := prices.LoadFromDB(ctx); err != nil {
		log.Warnf("pricing: failed to load overrides from database: %v", err)
	}
	if cfg.Pricing.File != "" {
		if err := prices.LoadFile(cfg.Pricing.File); err != nil {
			log.Warnf("pricing: %v", err)
		}
		if cfg.Pricing.Watch {
			if err := prices.Watch(cfg.Pricing.File); err != nil {
				log.Warnf("pricing: failed to watch %s: %v", cfg.Pricing.File, err)
			}
		}
	}
	defer prices.Stop()

	locker, closeLocker := newLocker(cfg.Redis)
	defer closeLocker()

	reporter := metering.NewReporter(cfg.Metering, repository.NewMeterEventRepository(db), nil)
	if backends := reporter.Backends(); len(backends) == 0 {
		log.Warn("metering: no backend configured, meter events are recorded locally only")
	} else {
		log.Infof("metering: backends %v, preferred %s, fallback %v", backends, cfg.Metering.Provider, cfg.Metering.Fallback)
	}
	if !cfg.Ledger.AllowClientTracking && cfg.Ledger.InternalToken == "" {
		log.Warn("ledger: LUC_INTERNAL_TOKEN is empty, all track calls will be rejected")
	}

	ledger := service.NewLedgerService(db, billing.NewCostCalculator(prices), reporter, locker)

	r := router.Setup(router.Deps{
		Config: cfg,
		DB:     db,
		Ledger: ledger,
		JWT:    service.NewJWTService(cfg.Auth),
		Prices: prices,
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("服务器启动在 http://0.0.0.0:%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("正在关闭服务器...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("服务器异常退出: %v", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// newLocker 配置了 Redis 时使用分布式锁，否则使用进程内分段锁
func newLocker(cfg config.RedisConfig) (lock.Locker, func()) {
	if cfg.Addr == "" {
		return lock.NewStripedLocker(0), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warnf("lock: redis %s unreachable (%v), falling back to in-process locks", cfg.Addr, err)
		_ = client.Close()
		return lock.NewStripedLocker(0), func() {}
	}
	log.Infof("lock: using redis at %s", cfg.Addr)
	return lock.NewRedisLocker(client, cfg.LockTTL), func() { _ = client.Close() }
}
