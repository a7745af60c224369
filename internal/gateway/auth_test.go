package gateway

import (
	"testing"
	"time"

	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/pkg/models"
)

func TestVerifyIssuedToken(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: "test-secret"})
	token, err := auth.IssueToken(&models.User{
		ID:          "u1",
		Username:    "tester",
		Email:       "tester@example.com",
		Permissions: []string{"BUYER"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	user, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.ID != "u1" || user.Username != "tester" {
		t.Errorf("user = %+v", user)
	}
	if !user.HasPermission("BUYER") {
		t.Error("permissions not carried")
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: "test-secret"})

	if _, err := auth.Verify(""); models.KindOf(err) != models.ErrAuth {
		t.Errorf("empty token kind = %v", models.KindOf(err))
	}
	if _, err := auth.Verify("not-a-jwt"); models.KindOf(err) != models.ErrAuth {
		t.Errorf("garbage token kind = %v", models.KindOf(err))
	}

	other := NewAuthenticator(config.AuthConfig{JWTSecret: "other-secret"})
	token, err := other.IssueToken(&models.User{ID: "u1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Verify(token); models.KindOf(err) != models.ErrAuth {
		t.Errorf("wrong-secret token kind = %v", models.KindOf(err))
	}

	expired, err := auth.IssueToken(&models.User{ID: "u1"}, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Verify(expired); models.KindOf(err) != models.ErrAuth {
		t.Errorf("expired token kind = %v", models.KindOf(err))
	}
}

func TestVerifyInsecureMode(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{AllowInsecure: true})
	user, err := auth.Verify("dev-user")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.ID != "dev-user" {
		t.Errorf("user = %+v", user)
	}
}
