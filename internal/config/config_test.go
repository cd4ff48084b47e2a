package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ISSUER_URL", "https://auth.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("unexpected default backend %q", cfg.Store.Backend)
	}
	if cfg.OAuth2.AccessTokenTTL != time.Hour {
		t.Errorf("unexpected access token TTL %v", cfg.OAuth2.AccessTokenTTL)
	}
	if cfg.OAuth2.CodeTTL != 5*time.Minute {
		t.Errorf("unexpected code TTL %v", cfg.OAuth2.CodeTTL)
	}
	if !cfg.OAuth2.RequirePKCEForPublicClients {
		t.Error("PKCE should be required for public clients by default")
	}
	if cfg.OIDC.SigningAlg != "RS256" {
		t.Errorf("unexpected signing alg %q", cfg.OIDC.SigningAlg)
	}
	if cfg.MFA.MaxAttempts != 3 {
		t.Errorf("unexpected MFA max attempts %d", cfg.MFA.MaxAttempts)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("unexpected sweep interval %v", cfg.SweepInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ISSUER_URL", "https://auth.example.com")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("CODE_TTL", "120") // bare integers are seconds
	t.Setenv("SIGNING_ALG", "ES256")
	t.Setenv("TOKEN_FORMAT", "jwt")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port override not applied: %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("backend override not applied: %q", cfg.Store.Backend)
	}
	if cfg.OAuth2.AccessTokenTTL != 30*time.Minute {
		t.Errorf("TTL override not applied: %v", cfg.OAuth2.AccessTokenTTL)
	}
	if cfg.OAuth2.CodeTTL != 2*time.Minute {
		t.Errorf("bare-seconds duration not applied: %v", cfg.OAuth2.CodeTTL)
	}
	if cfg.OIDC.SigningAlg != "ES256" {
		t.Errorf("alg override not applied: %q", cfg.OIDC.SigningAlg)
	}
	if cfg.OAuth2.TokenFormat != "jwt" {
		t.Errorf("format override not applied: %q", cfg.OAuth2.TokenFormat)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limit override not applied")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing issuer", map[string]string{"ISSUER_URL": ""}},
		{"relative issuer", map[string]string{"ISSUER_URL": "auth.example.com"}},
		{"issuer with query", map[string]string{"ISSUER_URL": "https://auth.example.com?x=1"}},
		{"bad backend", map[string]string{
			"ISSUER_URL":    "https://auth.example.com",
			"STORE_BACKEND": "redis",
		}},
		{"bad token format", map[string]string{
			"ISSUER_URL":   "https://auth.example.com",
			"TOKEN_FORMAT": "paseto",
		}},
		{"bad signing alg", map[string]string{
			"ISSUER_URL":  "https://auth.example.com",
			"SIGNING_ALG": "HS256",
		}},
		{"code TTL too long", map[string]string{
			"ISSUER_URL": "https://auth.example.com",
			"CODE_TTL":   "30m",
		}},
		{"MFA TTL too long", map[string]string{
			"ISSUER_URL":   "https://auth.example.com",
			"MFA_CODE_TTL": "10m",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
