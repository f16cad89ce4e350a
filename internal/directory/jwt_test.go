package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loqui/social-core/internal/domain"
)

var testSecret = []byte("unit-test-signing-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuthenticateValidToken(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)
	credential := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := auth.Authenticate(credential)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("expected user-42, got %q", userID)
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)
	credential := signToken(t, []byte("some-other-secret"), jwt.MapClaims{"sub": "user-42"})

	if _, err := auth.Authenticate(credential); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)
	credential := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := auth.Authenticate(credential); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestAuthenticateRejectsMissingSubject(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)
	credential := signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	if _, err := auth.Authenticate(credential); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestAuthenticateRejectsEmptyCredential(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)
	if _, err := auth.Authenticate(""); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}
