// ==============================================================================
// PRIVACY SERVICE MAIN - cmd/privacy/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"nexus/internal/budget"
	"nexus/internal/dp"
	"nexus/internal/handler"
	"nexus/internal/middleware"
	"nexus/internal/repository/postgres"
	"nexus/pkg/cache"
	"nexus/pkg/config"
	"nexus/pkg/logger"
	"nexus/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("privacy-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Privacy Service", map[string]interface{}{
		"port":          cfg.Server.Port,
		"total_epsilon": cfg.Privacy.TotalEpsilon,
	})

	// Audit trail is optional: without DATABASE_URL the accountant runs
	// purely in memory.
	var auditSink budget.AuditSink
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{
				"error": err.Error(),
			})
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		auditSink = postgres.NewPrivacyAuditRepository(db)
		log.Info("Database connected, audit trail enabled", nil)
	}

	// Redis backs the rate limiter and the ledger snapshot store.
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer redisCache.Close()

	log.Info("Redis connected", nil)

	// Core wiring: accountant -> sensitivity model -> engine.
	accountant := budget.NewAccountant(budget.Config{
		TotalEpsilon: cfg.Privacy.TotalEpsilon,
		HistoryLimit: cfg.Privacy.HistoryLimit,
	}, auditSink, log)

	restoreLedgers(redisCache, cfg.Privacy.SnapshotKey, accountant, log)

	model := dp.NewModel(cfg.Privacy.MeanCountFraction, cfg.Privacy.SumSensitivity)
	engine := dp.NewEngine(accountant, model, cfg.Privacy.MaxQueryEpsilon, log)

	val := validator.New()
	privacyHandler := handler.NewPrivacyHandler(engine, accountant, val, log)

	// Setup router
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(1 << 20)) // 1MB global cap

	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ready", readyCheck(redisCache)).Methods("GET")

	resolver := middleware.NewPrincipalResolver(cfg.JWT.Secret, cfg.APIKeys)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(resolver.Resolve)
	api.Use(middleware.NewRateLimiter(redisCache.Client(), 120, time.Minute).Limit)

	api.HandleFunc("/dp/count", privacyHandler.DPCount).Methods("POST")
	api.HandleFunc("/dp/mean", privacyHandler.DPMean).Methods("POST")
	api.HandleFunc("/privacy/budget", privacyHandler.GetBudget).Methods("GET")
	api.HandleFunc("/privacy/budget/history", privacyHandler.GetBudgetHistory).Methods("GET")
	api.HandleFunc("/privacy/budget/suggest", privacyHandler.SuggestEpsilon).Methods("POST")
	api.HandleFunc("/privacy/budget/reset", privacyHandler.ResetBudget).Methods("POST")
	api.HandleFunc("/privacy/budget/consume", privacyHandler.ConsumeBudget).Methods("POST")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Privacy service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down privacy service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Privacy service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	saveLedgers(ctx, redisCache, cfg.Privacy.SnapshotKey, accountant, log)

	log.Info("Privacy service stopped gracefully", nil)
}

// restoreLedgers reloads accountant state persisted by a previous run.
// Missing or malformed snapshots are ignored; the core is in-memory
// first and Redis is only a convenience across restarts.
func restoreLedgers(c *cache.RedisCache, key string, accountant *budget.Accountant, log logger.Logger) {
	if key == "" {
		return
	}

	var states map[string]budget.LedgerState
	if err := c.Get(context.Background(), key, &states); err != nil {
		return
	}

	accountant.Restore(states)
	log.Info("Restored privacy ledgers from snapshot", map[string]interface{}{
		"principals": len(states),
	})
}

func saveLedgers(ctx context.Context, c *cache.RedisCache, key string, accountant *budget.Accountant, log logger.Logger) {
	if key == "" {
		return
	}

	if err := c.Set(ctx, key, accountant.Export(), 0); err != nil {
		log.Warn("Failed to snapshot privacy ledgers", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	log.Info("Privacy ledgers snapshotted", nil)
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"privacy"}`))
}

func readyCheck(c *cache.RedisCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Client().Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"redis unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"privacy"}`))
	}
}
