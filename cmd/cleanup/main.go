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

// Command cleanup deactivates role assignments whose expiry has passed and
// evicts the cached decisions of the affected principals. Intended to run
// from cron as a backstop for the in-server sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/authzengine/authzengine/internal/cache"
	"github.com/authzengine/authzengine/internal/config"
	"github.com/authzengine/authzengine/internal/events"
	"github.com/authzengine/authzengine/internal/observability/logger"
	"github.com/authzengine/authzengine/internal/rbac"
	"github.com/authzengine/authzengine/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	roleRepo := postgres.NewRoleRepository(db)
	permissionRepo := postgres.NewPermissionRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	constraintRepo := postgres.NewConstraintRepository(db)
	resolver := rbac.NewResolver(roleRepo, permissionRepo, assignmentRepo)

	// Revocation events only matter when there is a cache to evict from.
	bus := events.NewBus(0, slog.Default())
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
		}, breaker, nil)
		if err != nil {
			slog.Warn("cache backend unreachable, skipping eviction", logger.Error(err))
		} else {
			defer redisCache.Close()
			bus.Subscribe(events.NewEvictor(redisCache, resolver, nil, slog.Default()))
		}
	}

	security := logger.NewSecurityLogger(slog.Default())
	rbacService := rbac.NewService(roleRepo, permissionRepo, assignmentRepo, constraintRepo, resolver, bus, security)

	n, err := rbacService.ExpireAssignments(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		os.Exit(1)
	}

	// Drain pending evictions before the process exits.
	bus.Close()

	fmt.Printf("Deactivated %d expired role assignments.\n", n)
}
