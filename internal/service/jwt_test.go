package service

import (
	"testing"
	"time"

	"lucledger/internal/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "luc-ledger", JWTAudience: "luc-api", TokenTTL: time.Hour}
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService(testAuthConfig())
	token, err := svc.GenerateToken("user-42")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("unexpected user %q", claims.UserID)
	}
}

func TestJWTRejections(t *testing.T) {
	svc := NewJWTService(testAuthConfig())

	expired, _ := svc.GenerateTokenWithTTL("user-1", -time.Minute)
	if _, err := svc.ValidateToken(expired); err != ErrExpiredToken {
		t.Fatalf("expected expired error, got %v", err)
	}

	otherIssuer := testAuthConfig()
	otherIssuer.JWTIssuer = "someone-else"
	foreign, _ := NewJWTService(otherIssuer).GenerateToken("user-1")
	if _, err := svc.ValidateToken(foreign); err != ErrInvalidIssuer {
		t.Fatalf("expected issuer error, got %v", err)
	}

	otherAudience := testAuthConfig()
	otherAudience.JWTAudience = "other-api"
	wrongAud, _ := NewJWTService(otherAudience).GenerateToken("user-1")
	if _, err := svc.ValidateToken(wrongAud); err != ErrInvalidAudience {
		t.Fatalf("expected audience error, got %v", err)
	}

	otherSecret := testAuthConfig()
	otherSecret.JWTSecret = "nope"
	forged, _ := NewJWTService(otherSecret).GenerateToken("user-1")
	if _, err := svc.ValidateToken(forged); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
