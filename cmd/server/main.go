package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/api"
	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/auth"
	"github.com/technosupport/license-server/internal/config"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/data/migrations"
	"github.com/technosupport/license-server/internal/events"
	"github.com/technosupport/license-server/internal/keygen"
	"github.com/technosupport/license-server/internal/licensing"
	"github.com/technosupport/license-server/internal/metrics"
	"github.com/technosupport/license-server/internal/middleware"
	"github.com/technosupport/license-server/internal/ratelimit"
	"github.com/technosupport/license-server/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.Log)
	log := logger.WithField("service", "license-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Database
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := data.Open(openCtx, cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(db); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
		log.Info("schema up to date")
	}
	store := data.NewStore(db)

	// 2. Audit with file failover
	spool, err := audit.NewSpool(cfg.Audit.SpoolDir, cfg.Audit.SpoolMaxMB)
	if err != nil {
		log.WithError(err).Warn("audit spool disabled; entries are dropped while the database is down")
		spool = nil
	}
	auditSvc := audit.NewService(db, spool, logger.WithField("component", "audit"))
	auditSvc.StartReplayer(ctx, cfg.Audit.ReplayInterval)

	// 3. Events
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, "license-server")
		if err != nil {
			log.WithError(err).Warn("NATS connect failed; events disabled")
		} else {
			defer nc.Drain()
			publisher = events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.NATS.MaxRetries)
			log.WithField("url", cfg.NATS.URL).Info("publishing license events to NATS")
		}
	}

	// 4. Engine
	gen, err := keygen.New(cfg.Keys.Prefix)
	if err != nil {
		log.WithError(err).Fatal("invalid key prefix")
	}
	m := metrics.New()
	engine := licensing.New(store, tokens.NewManager(cfg.JWT.SigningKey), auditSvc,
		licensing.WithKeyGenerator(gen),
		licensing.WithPublisher(publisher),
		licensing.WithLogger(log),
		licensing.WithObserver(func(op string, code licensing.Code) {
			m.ObserveOperation(op, string(code))
		}),
	)

	// 5. Rate limiting (optional; fails open)
	var limiter *middleware.RateLimitMiddleware
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable at startup; requests are not rate limited until it recovers")
		}

		rl := cfg.RateLimit
		limiter = middleware.NewRateLimitMiddleware(ratelimit.NewLimiter(rdb, rl.Salt), middleware.RateLimitConfig{
			PerIP: ratelimit.LimitConfig{Rate: rl.PerIP.Rate, Window: rl.PerIP.Window},
			Endpoints: map[string]ratelimit.LimitConfig{
				"/api/v1/licenses/activate": {Rate: rl.Activate.Rate, Window: rl.Activate.Window},
			},
			PerLicense: ratelimit.LimitConfig{Rate: rl.PerLicense.Rate, Window: rl.PerLicense.Window},
		}, logger.WithField("component", "ratelimit"), m)
	}

	// 6. Admin keys
	var verifier middleware.KeyVerifier
	if len(cfg.Admin.KeyHashes) > 0 || cfg.Admin.KeyFile != "" {
		ring, err := auth.NewKeyRing(cfg.Admin.KeyHashes, cfg.Admin.KeyFile, logger.WithField("component", "admin_keys"))
		if err != nil {
			log.WithError(err).Fatal("invalid admin key hash")
		}
		ring.Watch(ctx, cfg.Admin.ReloadInterval)
		verifier = ring
	}

	// 7. HTTP
	router := api.NewRouter(api.Config{
		Service:          engine,
		Audit:            auditSvc,
		Admin:            verifier,
		RateLimit:        limiter,
		Metrics:          m,
		Log:              logger.WithField("component", "api"),
		WebhookSecret:    cfg.Webhook.Secret,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RequestTimeout:   cfg.Server.RequestTimeout,
		ProductCacheSize: cfg.Cache.Size,
		ProductCacheTTL:  cfg.Cache.TTL,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Server.Addr, "env": cfg.Env}).Info("license server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}

	// Last chance to flush entries spooled during an outage.
	if n := auditSvc.ReplaySpool(shutdownCtx); n > 0 {
		log.WithField("entries", n).Info("flushed audit spool")
	}
}
