package graph

import (
	"testing"

	"github.com/zamburak/zamburak/internal/label"
)

func testBudgets() Budgets {
	return Budgets{MaxValues: 100, MaxParentsPerValue: 8}
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	g := New(testBudgets())

	a, err := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "literal")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := g.Add(label.Untrusted(), label.NewConfidentiality(), []ValueID{a}, "fetch")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if a != 1 || b != 2 {
		t.Errorf("expected IDs 1, 2; got %d, %d", a, b)
	}
}

func TestAddRejectsUnknownParent(t *testing.T) {
	g := New(testBudgets())

	if _, err := g.Add(label.Trusted(), label.NewConfidentiality(), []ValueID{42}, ""); err == nil {
		t.Error("expected error for nonexistent parent")
	}
}

func TestAddEnforcesValueBudget(t *testing.T) {
	g := New(Budgets{MaxValues: 2, MaxParentsPerValue: 8})

	g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")
	g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")

	if _, err := g.Add(label.Trusted(), label.NewConfidentiality(), nil, ""); err == nil {
		t.Error("expected max_values budget error on third value")
	}
}

func TestAddEnforcesParentBudget(t *testing.T) {
	g := New(Budgets{MaxValues: 100, MaxParentsPerValue: 2})

	a, _ := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")
	b, _ := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")
	c, _ := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")

	if _, err := g.Add(label.Trusted(), label.NewConfidentiality(), []ValueID{a, b, c}, ""); err == nil {
		t.Error("expected max_parents_per_value budget error")
	}
}

func TestMintVerifiedRequiresRegisteredVerifier(t *testing.T) {
	g := New(testBudgets())

	if _, err := g.MintVerified(label.NewConfidentiality(), nil, "verify_payee"); err == nil {
		t.Error("expected error without a registered verifier")
	}

	g.RegisterVerifier(func(id ValueID) (string, bool) {
		return "AllowlistedPayee", true
	})

	id, err := g.MintVerified(label.NewConfidentiality(), nil, "verify_payee")
	if err != nil {
		t.Fatalf("mint verified: %v", err)
	}
	v, ok := g.Get(id)
	if !ok {
		t.Fatal("minted value not found")
	}
	if v.Integrity != label.Verified("AllowlistedPayee") {
		t.Errorf("integrity = %s, want Verified(AllowlistedPayee)", v.Integrity)
	}
}

func TestMintVerifiedDeclined(t *testing.T) {
	g := New(testBudgets())
	g.RegisterVerifier(func(id ValueID) (string, bool) { return "", false })

	if _, err := g.MintVerified(label.NewConfidentiality(), nil, ""); err == nil {
		t.Error("expected error when verifier declines")
	}
	if g.Len() != 0 {
		t.Errorf("declined mint must not create a value; graph has %d", g.Len())
	}
}

func TestResetRestartsIDs(t *testing.T) {
	g := New(testBudgets())
	g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")
	g.Reset()

	id, err := g.Add(label.Trusted(), label.NewConfidentiality(), nil, "")
	if err != nil {
		t.Fatalf("add after reset: %v", err)
	}
	if id != 1 {
		t.Errorf("ID after reset = %d, want 1", id)
	}
}
