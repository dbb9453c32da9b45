// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authzengine/authzengine/internal/audit"
	"github.com/authzengine/authzengine/internal/cache"
	"github.com/authzengine/authzengine/internal/config"
	"github.com/authzengine/authzengine/internal/engine"
	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/observability/metrics"
	"github.com/authzengine/authzengine/internal/observability/tracing"
	"github.com/authzengine/authzengine/internal/policy"
	"github.com/authzengine/authzengine/internal/principal"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/store/postgres"
	"github.com/authzengine/authzengine/internal/tenant"
	transportHTTP "github.com/authzengine/authzengine/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting authorization decision service")

	// CLI subcommands
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.TracingEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	if tracer != nil {
		defer tracer.Shutdown(ctx)
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.MetricsEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	tenantRepo := postgres.NewTenantRepository(db)
	principalRepo := postgres.NewPrincipalRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	permissionRepo := postgres.NewPermissionRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	constraintRepo := postgres.NewConstraintRepository(db)
	policyRepo := postgres.NewPolicyRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Decision cache. A failed backend connection downgrades to the no-op
	// cache; the engine works without one, only slower.
	var decisionCache cache.Cache = cache.NewNoOpCache()
	var breakerState func() cache.BreakerState
	if cfg.Cache.Enabled {
		breaker := cache.NewBreaker(cache.BreakerConfig{
			FailureThreshold:  cfg.Cache.BreakerFailureThreshold,
			OpenTimeout:       cfg.Cache.BreakerOpenTimeout,
			HalfOpenSuccesses: cfg.Cache.BreakerHalfOpenSuccess,
		}, slog.Default())
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr(),
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}, breaker, meter)
		if err != nil {
			slog.Warn("cache backend unreachable, serving uncached", logger.Error(err))
		} else {
			decisionCache = redisCache
			breakerState = redisCache.BreakerState
			slog.Info("connected to decision cache")
		}
	}
	defer decisionCache.Close()

	// Invalidation path: mutation services publish onto the bus, the
	// evictor turns events into cache deletions.
	bus := events.NewBus(0, slog.Default())
	resolver := rbac.NewResolver(roleRepo, permissionRepo, assignmentRepo)
	if breakerState != nil {
		bus.Subscribe(events.NewEvictor(decisionCache, resolver, meter, slog.Default()))
	}

	// Initialize helpers
	security := logger.NewSecurityLogger(slog.Default())
	keyHasher := principal.NewKeyHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Initialize services
	tenantService := tenant.NewService(tenantRepo, bus)
	principalService := principal.NewService(principalRepo, keyHasher)
	rbacService := rbac.NewService(roleRepo, permissionRepo, assignmentRepo, constraintRepo, resolver, bus, security)
	policyService := policy.NewService(policyRepo, bus)
	auditService := audit.NewService(auditRepo, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, meter, slog.Default())

	// Decision engine
	eng := engine.New(
		tenantService,
		principalService,
		resolver,
		policyService,
		decisionCache,
		auditService,
		engine.TTLConfig{
			Decision:     cfg.Cache.AuthorizationTTL,
			RoleClosure:  cfg.Cache.RoleHierarchyTTL,
			Policies:     cfg.Cache.PolicyTTL,
			TenantConfig: cfg.Cache.TenantConfigTTL,
		},
		meter,
		slog.Default(),
	)

	// Rate limiter: MaxTokens per Interval, refilled continuously.
	rateLimiter := transportHTTP.NewRateLimiter(
		float64(cfg.RateLimit.MaxTokens)/cfg.RateLimit.Interval.Seconds(),
		cfg.RateLimit.MaxTokens,
	)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		eng,
		tenantService,
		principalService,
		rbacService,
		policyService,
		auditService,
		security,
		transportHTTP.HealthProbes{
			DB:            db.Ping,
			CacheBreaker:  breakerState,
			AuditDegraded: auditService.Degraded,
		},
		cfg.Security.JWTSecret,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter, cfg.Server.RequestTimeout)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start expired-assignment sweep goroutine. Each deactivated
	// assignment publishes a revocation event, so stale cached decisions
	// of the former holder are evicted.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			n, err := rbacService.ExpireAssignments(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to expire role assignments", logger.Error(err))
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "deactivated expired role assignments", logger.Count(n))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown: stop accepting requests, then drain the event
	// bus and flush the audit buffer while the backends are still up.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	bus.Close()
	auditService.Close()

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
