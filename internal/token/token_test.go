package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"taskdesk/internal/domain"
)

func fixedService(secret string) Service {
	return Service{
		Secret: secret,
		TTL:    time.Hour,
		Now:    func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := fixedService("test-secret")
	u := domain.User{ID: 42, Role: domain.RoleLead}
	tok, err := svc.Issue(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != 42 || p.Role != domain.RoleLead {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc := fixedService("test-secret")
	tok, err := svc.Issue(domain.User{ID: 1, Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// move the clock past expiry
	svc.Now = func() time.Time { return time.Date(2024, 1, 1, 13, 0, 1, 0, time.UTC) }
	if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	svc := fixedService("test-secret")
	tok, err := svc.Issue(domain.User{ID: 1, Role: domain.RoleTeam})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := fixedService("other-secret")
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	svc := fixedService("test-secret")
	for _, tok := range []string{"", "garbage", "a.b.c", strings.Repeat("x", 200)} {
		if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestVerifyUnknownRole(t *testing.T) {
	svc := fixedService("test-secret")
	tok, err := svc.Issue(domain.User{ID: 7, Role: domain.Role("superuser")})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestIssueWithoutSecret(t *testing.T) {
	svc := Service{}
	if _, err := svc.Issue(domain.User{ID: 1, Role: domain.RoleAdmin}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}
