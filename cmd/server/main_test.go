package main

import (
	"strings"
	"testing"

	"troli/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cfg := config.Config{AuthSecret: strings.Repeat("a", 32)}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected 32-char secret to pass, got %v", err)
	}

	cfg.AuthSecret = "short"
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}

	cfg.AuthSecret = ""
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
}
