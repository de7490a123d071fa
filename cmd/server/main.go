// Copyright 2026 The Keyline Authors
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

	"github.com/keyline-id/keyline/internal/audit"
	"github.com/keyline-id/keyline/internal/cache"
	"github.com/keyline-id/keyline/internal/config"
	"github.com/keyline-id/keyline/internal/identity"
	"github.com/keyline-id/keyline/internal/keystore"
	"github.com/keyline-id/keyline/internal/observability/logger"
	"github.com/keyline-id/keyline/internal/observability/metrics"
	"github.com/keyline-id/keyline/internal/observability/tracing"
	"github.com/keyline-id/keyline/internal/org"
	"github.com/keyline-id/keyline/internal/permission"
	"github.com/keyline-id/keyline/internal/session"
	"github.com/keyline-id/keyline/internal/store/postgres"
	"github.com/keyline-id/keyline/internal/token"
	transportHTTP "github.com/keyline-id/keyline/internal/transport/http"
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
	slog.Info("starting keyline identity core")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Global directory database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to global directory database")

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	orgRepo := postgres.NewOrgRepository(db)
	regionRepo := postgres.NewRegionRepository(db)

	// Key and refresh token stores. Without redis both fall back to
	// in-process stores, which is fine for a single replica.
	var secretStore keystore.SecretStore
	var tokenStore token.Store
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewClient(cache.Config{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			slog.Error("failed to connect to redis", logger.Error(err))
			os.Exit(1)
		}
		defer redisClient.Close()
		secretStore = keystore.NewRedisStore(redisClient)
		tokenStore = token.NewRedisStore(redisClient)
		slog.Info("connected to shared cache")
	} else {
		slog.Warn("no redis configured, using in-process key and token stores")
		secretStore = keystore.NewMemoryStore()
		memTokens := token.NewMemoryStore()
		memTokens.StartSweep(cfg.Tokens.SweepInterval)
		defer memTokens.StopSweep()
		tokenStore = memTokens
	}

	// Signing keys
	keys := keystore.New(secretStore, cfg.Keys.RotationInterval)
	if err := keys.Init(ctx); err != nil {
		slog.Error("failed to initialize signing keys", logger.Error(err))
		os.Exit(1)
	}
	keys.StartRotation()
	defer keys.StopRotation()

	// Tenant routing
	factory := postgres.NewTenantStoreFactory()
	orgRouter := org.NewRouter(orgRepo, regionRepo, factory)
	defer orgRouter.Close()

	// Permission engine over the directory
	resolver := identity.NewRoleResolver(roleRepo, orgRouter)
	directory := identity.NewDirectory(userRepo, groupRepo, resolver)
	engine := permission.NewEngine(directory, directory, directory,
		cfg.Permissions.CacheSize, cfg.Permissions.CacheTTL)

	// Sessions
	sessions := session.NewManager(keys, cfg.Tokens.Issuer, cfg.Tokens.SessionTTL)
	verifier := session.NewVerifier(sessions, engine)

	// Helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Services
	identityService := identity.NewService(
		userRepo,
		roleRepo,
		groupRepo,
		resolver,
		orgRouter,
		passwordHasher,
		verifier,
		engine,
		tokenStore,
		auditLogger,
	)
	orgService := org.NewService(orgRepo, regionRepo, orgRouter, verifier, auditLogger)

	// ENV driven bootstrap: predefined roles plus the initial admin.
	bootstrapService := identity.NewBootstrapService(identityService, roleRepo, auditLogger)
	if err := bootstrapService.Bootstrap(ctx); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
		os.Exit(1)
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// HTTP handler and router
	handler := transportHTTP.NewHandler(
		identityService,
		orgService,
		sessions,
		verifier,
		tokenStore,
		auditLogger,
		cfg.Tokens.RefreshTTL,
	)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

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

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// runBootstrap seeds predefined roles and the ENV-driven initial admin
// without starting the server. No external authorization exists yet, so
// the services run through their bootstrap entry points only.
func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	resolver := identity.NewRoleResolver(roleRepo, nil)
	identityService := identity.NewService(
		userRepo, roleRepo, groupRepo, resolver, nil,
		passwordHasher, nil, nil, nil, auditLogger,
	)
	bootstrapService := identity.NewBootstrapService(identityService, roleRepo, auditLogger)
	return bootstrapService.Bootstrap(ctx)
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying global directory schema...")
	if err := db.Migrate(ctx, postgres.GlobalSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
