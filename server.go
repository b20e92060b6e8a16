package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/integrations"
	"github.com/mmdatafocus/freight_backend/middlewares"
	"github.com/mmdatafocus/freight_backend/reports"
	"github.com/mmdatafocus/freight_backend/store"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/mmdatafocus/freight_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if config.IsProduction() {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			// Deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// openAuditLog replays the durable chain when a database is configured. A
// chain that fails verification still returns a halted log so the server
// can come up read-only and report the breach.
func openAuditLog(ctx context.Context, logger *logrus.Logger) (*audit.Log, error) {
	hashFunc, err := audit.NewHashFunc(config.AuditHashAlgo())
	if err != nil {
		return nil, err
	}
	opts := []audit.Option{audit.WithHashFunc(hashFunc), audit.WithLogger(logger)}

	if !config.DatabaseEnabled() {
		logger.WithFields(logrus.Fields{"field": "audit"}).Warn("DB_HOST not set; audit chain is kept in memory only")
		return audit.NewLog(audit.NewMemorySink(), opts...), nil
	}
	if err := config.ConnectDatabaseWithRetry(ctx, 8); err != nil {
		return nil, err
	}
	sink := audit.NewGormSink(config.GetDB())
	if err := sink.Migrate(ctx); err != nil {
		return nil, err
	}
	auditLog, report, err := audit.LoadChain(ctx, sink, opts...)
	if auditLog == nil {
		return nil, err
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field":  "audit",
			"report": report,
		}).Error("audit chain failed verification; writes are halted: " + err.Error())
	}
	return auditLog, nil
}

func engineOptions(ctx context.Context, logger *logrus.Logger) ([]workflow.Option, func()) {
	opts := []workflow.Option{workflow.WithLogger(logger)}
	cleanup := func() {}

	if raw := config.ExchangeRates(); raw != "" {
		rates, err := reports.ParseRates(raw)
		if err != nil {
			config.LogError(logger, "server.go", "engineOptions", "ParseRates", raw, err)
		} else {
			opts = append(opts, workflow.WithRates(rates))
		}
	}

	if config.RedisEnabled() && config.ConnectRedisWithRetry(ctx, 5) {
		opts = append(opts, workflow.WithLocker(workflow.NewRedisLocker(config.GetRedisLock(), config.LockTTL())))
	} else {
		logger.WithFields(logrus.Fields{"field": "locker"}).Warn("redis not available; using in-process locks")
	}

	if topic := config.AuditTopic(); topic != "" {
		client, err := config.GetPubSubClient(ctx, 3)
		if err != nil {
			config.LogError(logger, "server.go", "engineOptions", "GetPubSubClient", topic, err)
		} else {
			publisher := workflow.NewPubSubPublisher(client, topic)
			opts = append(opts, workflow.WithPublisher(publisher))
			cleanup = func() {
				publisher.Stop()
				_ = client.Close()
			}
		}
	}
	return opts, cleanup
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	auditLog, err := openAuditLog(sigCtx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "audit"}).Fatal("audit log unavailable: " + err.Error())
	}
	opts, cleanup := engineOptions(sigCtx, logger)
	defer cleanup()

	engine := workflow.NewEngine(store.NewMemoryStore(), auditLog, opts...)

	timeout := config.ExternalTimeout()
	breakerCfg := integrations.DefaultBreakerConfig()
	a := &api{
		engine:   engine,
		scanner:  integrations.NewLabelScanner(os.Getenv("OCR_URL"), timeout, breakerCfg, logger),
		insights: integrations.WithFallback(integrations.NewInsightGenerator(os.Getenv("INSIGHTS_URL")), timeout, breakerCfg, logger),
		logger:   logger,
	}

	var limiter *middlewares.RateLimiter
	if enabled, limit, window := config.RateLimit(); enabled {
		if rdb := config.GetRedisDB(); rdb != nil {
			limiter = middlewares.NewRateLimiter(rdb, limit, window)
		} else {
			logger.WithFields(logrus.Fields{"field": "rateLimit"}).Warn("RATE_LIMIT_ENABLED=true but redis is not connected; rate limiting disabled")
		}
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(a, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()
	log.Printf("freight console API listening on :%s", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
