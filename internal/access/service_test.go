package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"strata.org/internal/hierarchy"
)

func suburbsStore(t *testing.T) *hierarchy.MemoryStore {
	t.Helper()
	store, err := hierarchy.NewMemoryStore([]*hierarchy.Node{
		{ID: "au", Name: "Australia", Path: hierarchy.Path{"australia"}, IsActive: true},
		{ID: "syd", ParentID: "au", Name: "Sydney", Path: hierarchy.Path{"australia", "sydney"}, IsActive: true},
		{ID: "bondi", ParentID: "syd", Name: "Bondi", Path: hierarchy.Path{"australia", "sydney", "bondi"}, IsActive: true},
		{ID: "manly", ParentID: "syd", Name: "Manly", Path: hierarchy.Path{"australia", "sydney", "manly"}, IsActive: true},
	})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return store
}

func newTestService(t *testing.T, seed ...Grant) (*Service, *InMemoryGrants) {
	t.Helper()
	grants := NewInMemoryGrants()
	for i := range seed {
		g := seed[i]
		if err := grants.Create(context.Background(), &g); err != nil {
			t.Fatalf("seed grant %s: %v", g.ID, err)
		}
	}
	svc, err := NewService(suburbsStore(t), grants, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, grants
}

func TestServiceAuthorize(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "u1", "syd", RoleManager, true))

	v, err := svc.Authorize(context.Background(), "u1", "bondi")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !v.Allowed || v.Role != RoleManager || v.Level != AccessInherited {
		t.Fatalf("unexpected verdict: %+v", v)
	}

	v, err = svc.Authorize(context.Background(), "u1", "au")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if v.Allowed {
		t.Fatalf("access must not flow upward: %+v", v)
	}
}

func TestServiceAuthorizeValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Authorize(context.Background(), "  ", "syd"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestServiceIssueRequiresAdminOnAnchor(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "admin", "syd", RoleAdmin, true))

	_, err := svc.Issue(context.Background(), "admin", GrantRequest{
		UserID:      "newbie",
		HierarchyID: "bondi",
		Role:        RoleRead,
	})
	if err != nil {
		t.Fatalf("admin on ancestor must be able to grant below it: %v", err)
	}

	// Admin on syd cannot hand out access above their own reach.
	_, err = svc.Issue(context.Background(), "admin", GrantRequest{
		UserID:      "newbie",
		HierarchyID: "au",
		Role:        RoleRead,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestServiceIssueRejectsManagerGrantor(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "mgr", "syd", RoleManager, true))
	_, err := svc.Issue(context.Background(), "mgr", GrantRequest{
		UserID:      "newbie",
		HierarchyID: "syd",
		Role:        RoleRead,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("manager must not issue grants, got %v", err)
	}
}

func TestServiceIssueRejectsPastExpiry(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "admin", "au", RoleAdmin, true))
	past := testNow.Add(-time.Hour)
	_, err := svc.Issue(context.Background(), "admin", GrantRequest{
		UserID:      "u",
		HierarchyID: "syd",
		Role:        RoleRead,
		ExpiresAt:   &past,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for past expiry, got %v", err)
	}
}

func TestServiceIssuedGrantIsEffectiveImmediately(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "admin", "au", RoleAdmin, true))

	g, err := svc.Issue(context.Background(), "admin", GrantRequest{
		UserID:               "worker",
		HierarchyID:          "syd",
		Role:                 RoleManager,
		InheritToDescendants: true,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if g.ID == "" || g.GrantedBy != "admin" || !g.IsActive {
		t.Fatalf("unexpected grant: %+v", g)
	}

	v, err := svc.Authorize(context.Background(), "worker", "manly")
	if err != nil || !v.Allowed || v.Role != RoleManager {
		t.Fatalf("fresh grant must resolve: %+v %v", v, err)
	}
}

func TestServiceAmend(t *testing.T) {
	svc, grants := newTestService(t,
		grant("g1", "admin", "au", RoleAdmin, true),
		grant("g2", "worker", "syd", RoleRead, true),
	)

	role := RoleManager
	inherit := false
	g, err := svc.Amend(context.Background(), "admin", "g2", GrantUpdate{
		Role:                 &role,
		InheritToDescendants: &inherit,
	})
	if err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if g.Role != RoleManager || g.InheritToDescendants {
		t.Fatalf("update not applied: %+v", g)
	}

	stored, err := grants.Find(context.Background(), "g2")
	if err != nil || stored.Role != RoleManager {
		t.Fatalf("amendment not persisted: %+v %v", stored, err)
	}
}

func TestServiceAmendClearExpiry(t *testing.T) {
	exp := testNow.Add(time.Hour)
	g2 := grant("g2", "worker", "syd", RoleRead, true)
	g2.ExpiresAt = &exp
	svc, grants := newTestService(t, grant("g1", "admin", "au", RoleAdmin, true), g2)

	if _, err := svc.Amend(context.Background(), "admin", "g2", GrantUpdate{ClearExpiry: true}); err != nil {
		t.Fatalf("Amend: %v", err)
	}
	stored, _ := grants.Find(context.Background(), "g2")
	if stored.ExpiresAt != nil {
		t.Fatalf("expiry not cleared: %+v", stored)
	}
}

func TestServiceAmendRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t,
		grant("g1", "mgr", "au", RoleManager, true),
		grant("g2", "worker", "syd", RoleRead, true),
	)
	role := RoleAdmin
	if _, err := svc.Amend(context.Background(), "mgr", "g2", GrantUpdate{Role: &role}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestServiceRevoke(t *testing.T) {
	svc, grants := newTestService(t,
		grant("g1", "admin", "au", RoleAdmin, true),
		grant("g2", "worker", "syd", RoleManager, true),
	)

	if err := svc.Revoke(context.Background(), "admin", "g2"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	stored, _ := grants.Find(context.Background(), "g2")
	if stored.RevokedAt == nil || !stored.RevokedAt.Equal(testNow) {
		t.Fatalf("revocation timestamp missing: %+v", stored)
	}

	v, err := svc.Authorize(context.Background(), "worker", "syd")
	if err != nil {
		t.Fatalf("Authorize after revoke: %v", err)
	}
	if v.Allowed {
		t.Fatalf("revoked grant still resolves: %+v", v)
	}
}

func TestServiceRevokeUnknownGrant(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "admin", "au", RoleAdmin, true))
	if err := svc.Revoke(context.Background(), "admin", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceValidateBulkTargets(t *testing.T) {
	svc, _ := newTestService(t, grant("g1", "u", "syd", RoleManager, true))

	if err := svc.ValidateBulkTargets(context.Background(), "u", []string{"syd", "bondi", "manly"}); err != nil {
		t.Fatalf("all targets in scope must pass: %v", err)
	}
	err := svc.ValidateBulkTargets(context.Background(), "u", []string{"syd", "au"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("one target out of scope must reject the batch, got %v", err)
	}
}

func TestServiceFilterRoundTrip(t *testing.T) {
	svc, _ := newTestService(t,
		grant("g1", "u", "syd", RoleManager, true),
		grant("g2", "u", "bondi", RoleAdmin, false),
	)

	f, err := svc.Filter(context.Background(), "u", ScopeOptions{})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if role, ok := f.Match(hierarchy.Path{"australia", "sydney", "bondi"}); !ok || role != RoleAdmin {
		t.Fatalf("exact override lost: %s %v", role, ok)
	}
	if role, ok := f.Match(hierarchy.Path{"australia", "sydney"}); !ok || role != RoleManager {
		t.Fatalf("anchor entry lost: %s %v", role, ok)
	}
}
