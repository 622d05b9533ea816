package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frontierbooks/bookstore-system/internal/model"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := NewManager("test-secret")

	tok, err := m.Issue(42, model.RoleAdmin, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	p, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != 42 {
		t.Fatalf("user id = %d, want 42", p.UserID)
	}
	if p.Role != model.RoleAdmin {
		t.Fatalf("role = %q, want %q", p.Role, model.RoleAdmin)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	m := NewManager("test-secret")

	tok, err := m.Issue(1, model.RoleUser, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = m.Verify(tok)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyForeignSecret(t *testing.T) {
	issuer := NewManager("secret-one")
	verifier := NewManager("secret-two")

	tok, err := issuer.Issue(1, model.RoleUser, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = verifier.Verify(tok)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	m := NewManager("test-secret")

	tok, err := m.Issue(1, model.RoleUser, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Подменяем payload, оставляя исходную подпись.
	forged := []byte(tok)
	for i := len(forged)/2 - 5; i < len(forged)/2; i++ {
		if forged[i] != 'A' {
			forged[i] = 'A'
		} else {
			forged[i] = 'B'
		}
	}

	_, err = m.Verify(string(forged))
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	m := NewManager("test-secret")

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.Verify(tok); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("verify(%q) err = %v, want ErrTokenMalformed", tok, err)
		}
	}
}

func TestVerifyMissingClaims(t *testing.T) {
	m := NewManager("test-secret")

	// Токен с валидной подписью, но без uid и role.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	tok, err := raw.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.Verify(tok); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	m := NewManager("test-secret")

	raw := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"uid":  42,
		"role": "admin",
		"exp":  time.Now().Add(time.Minute).Unix(),
	})
	tok, err := raw.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.Verify(tok); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}
}
