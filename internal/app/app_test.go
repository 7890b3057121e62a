package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tipidbuddy/tipidbuddy-server/internal/config"
	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
)

func testConfig(t *testing.T, backend string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.KV.Backend = backend
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "tipid-test.db")
	cfg.KV.LevelDBPath = filepath.Join(t.TempDir(), "kv")
	cfg.Identity.JWTSecret = "test-secret"
	return cfg
}

func TestBuild_Backends(t *testing.T) {
	for _, backend := range []string{BackendMemory, BackendDatabase, BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			services, err := Build(context.Background(), testConfig(t, backend))
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			defer func() {
				if errClose := services.Close(); errClose != nil {
					t.Fatalf("Close: %v", errClose)
				}
			}()

			ctx := context.Background()
			who := identity.Identity{UserID: "alice", Email: "alice@example.com", DisplayName: "Alice"}
			if _, errEnsure := services.Profiles.Ensure(ctx, who); errEnsure != nil {
				t.Fatalf("Ensure: %v", errEnsure)
			}
			group, errCreate := services.Ledger.CreateGroup(ctx, "Trip", mustDecimal(t, "50"), who)
			if errCreate != nil {
				t.Fatalf("CreateGroup: %v", errCreate)
			}
			loaded, errGet := services.Ledger.GetGroup(ctx, group.ID)
			if errGet != nil {
				t.Fatalf("GetGroup: %v", errGet)
			}
			if loaded.InviteCode != group.InviteCode {
				t.Fatalf("expected invite code %q, got %q", group.InviteCode, loaded.InviteCode)
			}
			if backend == BackendDatabase && services.Health == nil {
				t.Fatalf("expected database health pinger")
			}
		})
	}
}

func TestBuild_UnknownBackend(t *testing.T) {
	_, err := Build(context.Background(), testConfig(t, "etcd"))
	if err == nil || !strings.Contains(err.Error(), "unsupported kv backend") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestBuild_RedisNeedsAddr(t *testing.T) {
	_, err := Build(context.Background(), testConfig(t, BackendRedis))
	if err == nil || !strings.Contains(err.Error(), "redis.addr") {
		t.Fatalf("expected redis addr error, got %v", err)
	}
}

func TestNewVerifier(t *testing.T) {
	cfg := config.Default().Identity
	cfg.JWTSecret = "test-secret"
	verifier, err := NewVerifier(cfg)
	if err != nil {
		t.Fatalf("NewVerifier(jwt): %v", err)
	}
	token, err := identity.GenerateToken("test-secret", "bob", "bob@example.com", "Bob", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	who, err := verifier.Verify(context.Background(), token)
	if err != nil || who.UserID != "bob" {
		t.Fatalf("expected bob, got %+v err=%v", who, err)
	}

	cfg.JWTSecret = ""
	if _, err = NewVerifier(cfg); !errors.Is(err, config.ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}

	cfg.Mode = IdentityModeRemote
	if _, err = NewVerifier(cfg); err == nil {
		t.Fatalf("expected error for remote mode without url")
	}
	cfg.RemoteURL = "https://auth.example.com/auth/v1/user"
	if _, err = NewVerifier(cfg); err != nil {
		t.Fatalf("NewVerifier(remote): %v", err)
	}

	cfg.Mode = "oauth"
	if _, err = NewVerifier(cfg); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMigrate(t *testing.T) {
	if err := Migrate(testConfig(t, BackendDatabase)); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}
