// Copyright 2026 The Authgrid Authors
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

	"github.com/authgrid/authgrid/internal/audit"
	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/login"
	"github.com/authgrid/authgrid/internal/mfa"
	"github.com/authgrid/authgrid/internal/oauth2"
	"github.com/authgrid/authgrid/internal/observability/logger"
	"github.com/authgrid/authgrid/internal/observability/metrics"
	"github.com/authgrid/authgrid/internal/observability/tracing"
	"github.com/authgrid/authgrid/internal/oidc"
	"github.com/authgrid/authgrid/internal/store/memory"
	"github.com/authgrid/authgrid/internal/store/postgres"
	transport "github.com/authgrid/authgrid/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type repositories struct {
	clients       oauth2.ClientRepository
	codes         oauth2.AuthorizationCodeRepository
	accessTokens  oauth2.AccessTokenRepository
	refreshTokens oauth2.RefreshTokenRepository
	factors       mfa.FactorRepository
	challenges    mfa.ChallengeRepository
	keys          oidc.KeyPersister
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.TracingEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	if _, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.MetricsEnabled}, cfg.Observability.ServiceName); err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	repos, cleanup, err := buildRepositories(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		// buildRepositories already ran the migration for postgres.
		log.Info("migration complete")
		return nil
	}

	keys, err := oidc.NewKeyManager(ctx, cfg.OIDC.SigningAlg, cfg.OIDC.KeyRotationPeriod, cfg.OIDC.KeyOverlapWindow, repos.keys)
	if err != nil {
		return fmt.Errorf("failed to init signing keys: %w", err)
	}

	directory := login.NewDirectory()
	oidcService := oidc.NewService(cfg.Issuer, cfg.OIDC.IDTokenTTL, keys, directory)

	auditor := audit.NewSlogLogger(log)

	mfaService := mfa.NewService(repos.factors, repos.challenges, mfa.NewDevNotifier(log), auditor, mfa.Config{
		Issuer:       cfg.Issuer,
		ChallengeTTL: cfg.MFA.ChallengeTTL,
		MaxAttempts:  cfg.MFA.MaxAttempts,
	})

	oauth2Service := oauth2.NewService(
		repos.clients, repos.codes, repos.accessTokens, repos.refreshTokens,
		oauth2.NewSecretHasher(), oidcService, oidcService, mfaService, auditor,
		oauth2.Config{
			CodeTTL:                     cfg.OAuth2.CodeTTL,
			AccessTokenTTL:              cfg.OAuth2.AccessTokenTTL,
			RefreshTokenAbsoluteTTL:     cfg.OAuth2.RefreshTokenAbsoluteTTL,
			TokenFormat:                 cfg.OAuth2.TokenFormat,
			RequirePKCEForPublicClients: cfg.OAuth2.RequirePKCEForPublicClients,
		},
	)

	handler := transport.NewHandler(oauth2Service, oidcService, mfaService, login.NewHeaderProvider(), log)

	var rl *transport.RateLimiter
	if cfg.RateLimit.Enabled {
		rl = transport.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      transport.NewRouter(handler, rl, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background sweeper: expired codes/tokens/challenges and key rotation.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := oauth2Service.CleanupExpired(sweepCtx); err != nil {
					log.Warn("token sweep failed", logger.Error(err))
				}
				if err := mfaService.SweepExpired(sweepCtx); err != nil {
					log.Warn("challenge sweep failed", logger.Error(err))
				}
				if err := keys.MaybeRotate(sweepCtx); err != nil {
					log.Warn("key rotation failed", logger.Error(err))
				}
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			slog.String("addr", server.Addr),
			slog.String("issuer", cfg.Issuer),
			slog.String("store", cfg.Store.Backend),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

// buildRepositories wires the configured Store backend. The returned cleanup
// closes pools and stops sweepers.
func buildRepositories(ctx context.Context, cfg *config.Config, log *slog.Logger) (*repositories, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := postgres.New(ctx, postgres.Config{
			Host:     cfg.Store.DBHost,
			Port:     cfg.Store.DBPort,
			User:     cfg.Store.DBUser,
			Password: cfg.Store.DBPassword,
			Database: cfg.Store.DBName,
			SSLMode:  cfg.Store.DBSSLMode,
			MaxConns: cfg.Store.DBMaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return &repositories{
			clients:       postgres.NewClientRepository(db),
			codes:         postgres.NewCodeRepository(db),
			accessTokens:  postgres.NewAccessTokenRepository(db),
			refreshTokens: postgres.NewRefreshTokenRepository(db),
			factors:       postgres.NewFactorRepository(db),
			challenges:    postgres.NewChallengeRepository(db),
			keys:          postgres.NewKeyRepository(db),
		}, db.Close, nil

	default:
		log.Warn("using in-memory store; state is lost on restart")
		// The lifecycle sweeper drives expiry, so the store's own sweeper
		// stays off.
		store := memory.NewStore(0)
		return &repositories{
			clients:       store.Clients,
			codes:         store.Codes,
			accessTokens:  store.AccessTokens,
			refreshTokens: store.RefreshTokens,
			factors:       store.Factors,
			challenges:    store.Challenges,
		}, store.Close, nil
	}
}
