package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CreditLedger/internal/token"
)

func TestRegistryGrantRevoke(t *testing.T) {
	r := NewRegistry()
	addr := token.Address("alice")

	if r.Has(addr, RoleGovernor) {
		t.Fatal("role granted before Grant")
	}
	r.Grant(addr, RoleGovernor)
	r.Grant(addr, RoleSurplusManager)
	if !r.Has(addr, RoleGovernor) || !r.Has(addr, RoleSurplusManager) {
		t.Fatal("granted roles not reported")
	}
	if got := len(r.RolesOf(addr)); got != 2 {
		t.Fatalf("RolesOf len = %d, want 2", got)
	}
	r.Revoke(addr, RoleGovernor)
	if r.Has(addr, RoleGovernor) {
		t.Fatal("revoked role still reported")
	}
}

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "creditledger", time.Hour)
	now := time.Now()

	raw, err := v.Issue(token.Address("alice"), []Role{RoleGovernor}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Address != token.Address("alice") {
		t.Fatalf("address = %s, want alice", id.Address)
	}
	if !id.HasRole(RoleGovernor) {
		t.Fatal("issued role not carried")
	}
	if id.HasRole(RoleGuardian) {
		t.Fatal("unissued role carried")
	}
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "creditledger", time.Hour)

	if _, err := v.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v, want ErrInvalidToken", err)
	}

	other := NewVerifier([]byte("other-secret"), "creditledger", time.Hour)
	raw, _ := other.Issue(token.Address("alice"), nil, time.Now())
	if _, err := v.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key err = %v, want ErrInvalidToken", err)
	}

	expired, _ := v.Issue(token.Address("alice"), nil, time.Now().Add(-2*time.Hour))
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err = %v, want ErrInvalidToken", err)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "creditledger", time.Hour)
	raw, _ := v.Issue(token.Address("alice"), []Role{RoleGuardian}, time.Now())

	var seen *Identity
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.Address != token.Address("alice") {
		t.Fatalf("identity not propagated: %+v", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}
}
