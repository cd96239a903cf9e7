// cmd/enrollment-server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sgpa-enrollment/internal/common/camunda"
	"sgpa-enrollment/internal/common/config"
	"sgpa-enrollment/internal/common/database"
	commonhttp "sgpa-enrollment/internal/common/http"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/common/observability"
	"sgpa-enrollment/internal/enrollment/service"
	"sgpa-enrollment/internal/submission"
	httptransport "sgpa-enrollment/internal/transport/http"
	ved "sgpa-enrollment/internal/workers/enrollment/validate-enrollment-data"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func pingWithTimeout(ping func(ctx context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ping(ctx)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console", "stdout")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting enrollment server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("submissionMode", cfg.Submission.Mode),
		zap.String("sessionStore", cfg.Sessions.Store),
	)

	obs, err := observability.New(cfg.App.Name, nil)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	var readiness []httptransport.ReadyFunc
	done := make(chan struct{})

	// --- Session store ---
	sessionTTL := config.GetDuration(cfg.Enrollment.SessionTTL)
	var (
		store service.Store
		rdb   *redis.Client
	)
	switch cfg.Sessions.Store {
	case config.SessionStoreRedis:
		rdb = database.NewRedis(cfg.Database.Redis)
		ping := func(ctx context.Context) error { return database.PingRedis(ctx, rdb) }
		if err := retryWithBackoff(pingWithTimeout(ping), 5, time.Second, zapLog, "Redis connection"); err != nil {
			zapLog.Fatal("redis unavailable", zap.Error(err))
		}
		store = service.NewRedisStore(rdb, cfg.Sessions.KeyPrefix, sessionTTL)
		readiness = append(readiness, ping)
		zapLog.Info("Redis session store connected", zap.String("address", cfg.Database.Redis.Address))
	default:
		mem := service.NewMemoryStore(sessionTTL)
		store = mem
		if sessionTTL > 0 {
			go sweepSessions(mem, sessionTTL, done, log)
		}
	}

	// --- Zeebe ---
	var zeebeClient *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebeClient, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe unavailable", zap.Error(err))
		}
		readiness = append(readiness, zeebeClient.HealthCheck)
		zapLog.Info("Zeebe client connected", zap.String("broker", cfg.Camunda.BrokerAddress))
	}

	// --- Submitter ---
	var submitter service.Submitter
	switch cfg.Submission.Mode {
	case config.SubmissionModeZeebe:
		submitter = submission.NewZeebeSubmitter(zeebeClient, cfg.Submission.ProcessID, log)
	default:
		client := commonhttp.NewClient(config.GetDuration(cfg.Submission.Timeout))
		submitter = submission.NewHTTPSubmitter(client, cfg.Submission.URL())
	}

	// --- Audit log ---
	var (
		audit service.AuditRecorder
		db    *sql.DB
	)
	if cfg.Audit.Enabled {
		db, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			zapLog.Fatal("postgres init failed", zap.Error(err))
		}
		ping := func(ctx context.Context) error { return database.PingPostgres(ctx, db) }
		if err := retryWithBackoff(pingWithTimeout(ping), 5, time.Second, zapLog, "PostgreSQL connection"); err != nil {
			zapLog.Fatal("postgres unavailable", zap.Error(err))
		}
		recorder := service.NewPostgresAuditRecorder(db)
		if err := recorder.EnsureSchema(context.Background()); err != nil {
			zapLog.Fatal("audit schema setup failed", zap.Error(err))
		}
		audit = recorder
		readiness = append(readiness, ping)
	}

	svc := service.New(service.Dependencies{
		Store:     store,
		Submitter: submitter,
		Audit:     audit,
		Recorder:  obs,
		Tracer:    obs.Tracer(),
		Logger:    log,
	}, service.Options{
		ResetDelay:            config.GetDuration(cfg.Enrollment.ResetDelay),
		RevalidateAllOnSubmit: cfg.Enrollment.RevalidateAllOnSubmit,
		SubmitTimeout:         config.GetDuration(cfg.Submission.Timeout),
	})

	// --- Workers ---
	var jobWorker worker.JobWorker
	if zeebeClient != nil {
		handler := ved.NewHandler(ved.HandlerOptions{AppConfig: cfg, Logger: log})
		jobWorker = camunda.StartWorker(zeebeClient.GetClient(), ved.TaskType, config.GetWorkerConfig(cfg, ved.TaskType), handler, log)
	}

	// --- HTTP Server ---
	router := httptransport.NewRouter(httptransport.NewHandler(svc, log), log, checkAll(readiness))
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: config.GetDuration(cfg.Server.ReadHeaderTimeout),
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping server...")
	case err := <-serverErr:
		zapLog.Error("HTTP server failed", zap.Error(err))
	}
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if jobWorker != nil {
		jobWorker.Close()
		jobWorker.AwaitClose()
	}
	if zeebeClient != nil {
		if err := zeebeClient.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			zapLog.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			zapLog.Error("Error closing PostgreSQL pool", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Enrollment server stopped gracefully", zap.Int("pendingResets", svc.PendingResets()))
}

func checkAll(checks []httptransport.ReadyFunc) httptransport.ReadyFunc {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// sweepSessions drops expired in-memory sessions until done is closed.
func sweepSessions(store *service.MemoryStore, ttl time.Duration, done <-chan struct{}, log logger.Logger) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Debug("Expired sessions removed", map[string]interface{}{"count": n})
			}
		}
	}
}
