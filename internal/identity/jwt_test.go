// internal/identity/jwt_test.go

package identity

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestVerifyRoundTrip(t *testing.T) {
	p := Principal{ID: "u-1", Name: "Ada", Role: RoleFrontOffice}

	token, err := GenerateToken(p, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	got, err := NewJWTVerifier(testSecret).Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if *got != p {
		t.Fatalf("principal mismatch: got %+v want %+v", got, p)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	p := Principal{ID: "u-1", Name: "Ada", Role: RoleStudent}

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := GenerateToken(p, "other-secret", time.Hour)
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := GenerateToken(p, testSecret, -time.Minute)
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := verifier.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		bad := Principal{ID: "u-2", Name: "Eve", Role: Role("root")}
		token, _ := GenerateToken(bad, testSecret, time.Hour)
		if _, err := verifier.Verify(token); !errors.Is(err, ErrUnknownRole) {
			t.Fatalf("expected ErrUnknownRole, got %v", err)
		}
	})
}
