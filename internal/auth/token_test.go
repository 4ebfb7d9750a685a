package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-with-enough-entropy"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestIssueAndVerify verifies tokens signed by Issuer round trip through Verifier.
func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "bagurumba")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, err := issuer.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verifier, err := NewVerifier(testSecret, WithIssuer("bagurumba"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID())
	}
}

func TestVerifyRejectsExpiredTokens(t *testing.T) {
	issuer, _ := NewIssuer(testSecret, "")
	issuer.now = fixedClock(time.Now().Add(-2 * time.Hour))
	token, err := issuer.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verifier, _ := NewVerifier(testSecret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecretAndIssuer(t *testing.T) {
	issuer, _ := NewIssuer("another-secret", "bagurumba")
	token, _ := issuer.Issue("user-1", time.Hour)
	verifier, _ := NewVerifier(testSecret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong secret to be rejected, got %v", err)
	}

	issuer, _ = NewIssuer(testSecret, "someone-else")
	token, _ = issuer.Issue("user-1", time.Hour)
	verifier, _ = NewVerifier(testSecret, WithIssuer("bagurumba"))
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong issuer to be rejected, got %v", err)
	}
}

// TestVerifyRequiresExpiry verifies tokens without exp are refused.
func TestVerifyRequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier, _ := NewVerifier(testSecret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing exp to be rejected, got %v", err)
	}
}

func TestVerifyAcceptsLegacyUserClaim(t *testing.T) {
	claims := jwt.MapClaims{
		"userId": "legacy-user",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier, _ := NewVerifier(testSecret)
	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.UserID() != "legacy-user" {
		t.Fatalf("expected legacy-user, got %q", got.UserID())
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier, _ := NewVerifier(testSecret)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected none algorithm to be rejected, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if _, err := NewIssuer("", ""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer  abc ":    "abc",
		"Basic dXNlcjpw":  "",
		"Bearer":          "",
		"Token something": "",
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := BearerToken(req); got != want {
			t.Fatalf("header %q: expected %q, got %q", header, want, got)
		}
	}
}
