package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/loqui/social-core/internal/domain"
)

func TestOrderPair_Canonical(t *testing.T) {
	lo1, hi1 := OrderPair("alice", "bob")
	lo2, hi2 := OrderPair("bob", "alice")

	if lo1 != lo2 || hi1 != hi2 {
		t.Errorf("pair should be order independent: (%s,%s) vs (%s,%s)", lo1, hi1, lo2, hi2)
	}
	if lo1 != "alice" || hi1 != "bob" {
		t.Errorf("unexpected canonical order: (%s,%s)", lo1, hi1)
	}
}

func TestOrderPair_DistinctPairsStayDistinct(t *testing.T) {
	// Concatenation-style schemes can collide under truncation; the ordered
	// pair must keep both components intact.
	lo1, hi1 := OrderPair("ab", "cd")
	lo2, hi2 := OrderPair("a", "bcd")

	if lo1 == lo2 && hi1 == hi2 {
		t.Error("distinct pairs must not map to the same key")
	}
}

func TestResolveGroup(t *testing.T) {
	r := NewResolver(nil, nil, 0)

	id, err := r.ResolveGroup("group-42")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if id != "group-42" {
		t.Errorf("group thread id should be the group id, got %s", id)
	}

	if _, err := r.ResolveGroup(""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty group id, got %v", err)
	}
}

func TestResolvePrivate_RejectsBadPairs(t *testing.T) {
	r := NewResolver(nil, nil, 0)
	ctx := context.Background()

	if _, err := r.ResolvePrivate(ctx, "alice", "alice"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for self pair, got %v", err)
	}
	if _, err := r.ResolvePrivate(ctx, "", "bob"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty participant, got %v", err)
	}
}

func TestNewResolver_DefaultPageSize(t *testing.T) {
	r := NewResolver(nil, nil, 0)
	if r.PageSize() != DefaultPageSize {
		t.Errorf("expected default page size %d, got %d", DefaultPageSize, r.PageSize())
	}

	r = NewResolver(nil, nil, 25)
	if r.PageSize() != 25 {
		t.Errorf("expected page size 25, got %d", r.PageSize())
	}
}
