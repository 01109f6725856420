package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := CheckPassword(hash, "hunter2hunter2"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch")
	}
}

func TestMintAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	raw, err := MintToken(secret, "usr_1", "org_1", time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := ParseToken(secret, raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "usr_1" || claims.OrgID != "org_1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseToken([]byte("other-secret"), raw); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	raw, _ := MintToken(secret, "usr_1", "org_1", time.Now().Add(-48*time.Hour))
	if _, err := ParseToken(secret, raw); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestParseBearer(t *testing.T) {
	tok, ok := ParseBearer("Bearer abc123")
	if !ok || tok != "abc123" {
		t.Fatalf("expected parsed bearer token, got ok=%v token=%q", ok, tok)
	}
	if _, ok := ParseBearer("abc123"); ok {
		t.Fatal("expected parse failure without Bearer prefix")
	}
	if _, ok := ParseBearer("Bearer "); ok {
		t.Fatal("expected parse failure on empty token")
	}
}

func TestMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	var got Identity
	h := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/api/documents", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	raw, _ := MintToken(secret, "usr_1", "org_1", time.Now())
	req2 := httptest.NewRequest("GET", "/api/documents", nil)
	req2.Header.Set("Authorization", "Bearer "+raw)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec2.Code)
	}
	if got.OrgID != "org_1" || got.UserID != "usr_1" {
		t.Fatalf("identity not injected: %+v", got)
	}
}
