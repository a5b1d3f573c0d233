package httpapi

import (
	"context"
	"testing"
	"time"

	"troli/backend/internal/storage"
	"troli/backend/internal/storage/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	users := memory.NewUserStore()
	err := users.CreateUser(context.Background(), storage.UserAccount{
		Username: "aisyah",
		Password: "rahsia-besar",
		Role:     "customer",
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	return NewAuthManager(testSecret, time.Hour, users)
}

func TestLoginIssuesParsableToken(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(context.Background(), "aisyah", "rahsia-besar")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != "customer" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "aisyah" || actor.Role != "customer" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginNormalizesUsername(t *testing.T) {
	auth := newTestAuth(t)
	if _, err := auth.Login(context.Background(), "  AISYAH ", "rahsia-besar"); err != nil {
		t.Fatalf("expected case-insensitive login, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(context.Background(), "aisyah", "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := auth.Login(context.Background(), "nobody", "rahsia-besar"); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
	if _, err := auth.Login(context.Background(), "aisyah", ""); err == nil {
		t.Fatalf("expected empty password to fail")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	users := memory.NewUserStore()
	if err := users.CreateUser(context.Background(), storage.UserAccount{
		Username: "dormant",
		Password: "rahsia-besar",
		Role:     "customer",
		Active:   false,
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	auth := NewAuthManager(testSecret, time.Hour, users)

	if _, err := auth.Login(context.Background(), "dormant", "rahsia-besar"); err == nil {
		t.Fatalf("expected inactive account to fail")
	}
}

func TestParseTokenRejectsForgedToken(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthManager("another-secret-another-secret-32", time.Hour, nil)

	resp, err := auth.Login(context.Background(), "aisyah", "rahsia-besar")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	users := memory.NewUserStore()
	if err := users.CreateUser(context.Background(), storage.UserAccount{
		Username: "aisyah",
		Password: "rahsia-besar",
		Role:     "customer",
		Active:   true,
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	auth := NewAuthManager(testSecret, time.Hour, users)

	expired, err := auth.sign("aisyah", "customer", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	users := memory.NewUserStore()
	if err := users.CreateUser(context.Background(), storage.UserAccount{
		Username: "legacy",
		Password: "plain-text-password",
		Role:     "customer",
		Active:   true,
	}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	auth := NewAuthManager(testSecret, time.Hour, users)
	if _, err := auth.Login(context.Background(), "legacy", "plain-text-password"); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !isPasswordHash(stored[0].Password) {
		t.Fatalf("plain-text password not upgraded in the store")
	}
}
