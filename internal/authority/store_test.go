package authority

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time { return t0.Add(time.Duration(seconds) * time.Second) }

func newTestStore(nowSeconds int) *Store {
	return NewStore(FixedClock{At: at(nowSeconds)})
}

func mustMint(t *testing.T, s *Store, subject string, scope []string, notBefore, notAfter int) Token {
	t.Helper()
	validity := Validity{NotBefore: at(notBefore)}
	if notAfter >= 0 {
		validity.NotAfter = at(notAfter)
	}
	token, err := s.Mint(subject, scope, validity)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token
}

func TestMintWellFormed(t *testing.T) {
	s := newTestStore(0)

	token := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)

	if token.ParentID != "" {
		t.Errorf("root token has parent %q", token.ParentID)
	}
	if !token.HasScope("send_email") || !token.HasScope("draft_email") {
		t.Errorf("scope lost resources: %v", token.Scope)
	}
	if token.HasScope("delete_email") {
		t.Error("scope contains a resource that was never granted")
	}
}

func TestMintRejectsMalformed(t *testing.T) {
	s := newTestStore(0)

	if _, err := s.Mint("", []string{"a"}, Validity{NotBefore: at(0)}); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := s.Mint("assistant", nil, Validity{NotBefore: at(0)}); err == nil {
		t.Error("expected error for empty scope")
	}
	if _, err := s.Mint("assistant", []string{"a"}, Validity{NotBefore: at(10), NotAfter: at(10)}); err == nil {
		t.Error("expected error for empty validity window")
	}
}

func TestDelegateNarrows(t *testing.T) {
	s := newTestStore(20)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)

	child, err := s.Delegate(parent.ID, "", []string{"send_email"}, Validity{NotBefore: at(20), NotAfter: at(100)})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if child.ParentID != parent.ID {
		t.Errorf("child parent = %q, want %q", child.ParentID, parent.ID)
	}
	if child.Subject != "assistant" {
		t.Errorf("child subject = %q, want inherited %q", child.Subject, "assistant")
	}
}

func TestDelegateEqualScopeRejected(t *testing.T) {
	s := newTestStore(20)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)

	_, err := s.Delegate(parent.ID, "", []string{"draft_email", "send_email"}, Validity{NotBefore: at(20), NotAfter: at(100)})
	if !errors.Is(err, ErrScopeNotNarrowed) {
		t.Fatalf("err = %v, want ErrScopeNotNarrowed for equal scope", err)
	}
}

func TestDelegateEmptyAndForeignScopeRejected(t *testing.T) {
	s := newTestStore(20)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)

	if _, err := s.Delegate(parent.ID, "", nil, Validity{NotBefore: at(20), NotAfter: at(100)}); !errors.Is(err, ErrScopeNotNarrowed) {
		t.Errorf("empty scope: err = %v, want ErrScopeNotNarrowed", err)
	}
	if _, err := s.Delegate(parent.ID, "", []string{"delete_email"}, Validity{NotBefore: at(20), NotAfter: at(100)}); !errors.Is(err, ErrScopeNotNarrowed) {
		t.Errorf("foreign scope: err = %v, want ErrScopeNotNarrowed", err)
	}
}

func TestDelegateLifetimeNotNarrowed(t *testing.T) {
	s := newTestStore(20)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 10, 200)

	cases := []Validity{
		{NotBefore: at(20), NotAfter: at(300)}, // extends past parent expiry
		{NotBefore: at(5), NotAfter: at(100)},  // starts before parent issuance
		{NotBefore: at(20)},                    // no expiry under an expiring parent
		{NotBefore: at(20), NotAfter: at(200)}, // equal expiry is not a narrowing
	}
	for _, v := range cases {
		if _, err := s.Delegate(parent.ID, "", []string{"send_email"}, v); !errors.Is(err, ErrLifetimeNotNarrowed) {
			t.Errorf("validity %+v: err = %v, want ErrLifetimeNotNarrowed", v, err)
		}
	}
}

func TestDelegateCheckOrderRevokedBeforeScope(t *testing.T) {
	s := newTestStore(20)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)
	s.Revoke(parent.ID)

	// Scope and lifetime are both wrong too, but the revoked parent must
	// be reported first.
	_, err := s.Delegate(parent.ID, "", parent.Scope, Validity{NotBefore: at(20), NotAfter: at(900)})
	if !errors.Is(err, ErrParentRevoked) {
		t.Fatalf("err = %v, want ErrParentRevoked before scope/lifetime checks", err)
	}
}

func TestDelegateExpiredParent(t *testing.T) {
	s := newTestStore(600)
	parent := mustMint(t, s, "assistant", []string{"send_email", "draft_email"}, 0, 500)

	_, err := s.Delegate(parent.ID, "", []string{"send_email"}, Validity{NotBefore: at(600), NotAfter: at(700)})
	if !errors.Is(err, ErrParentExpired) {
		t.Fatalf("err = %v, want ErrParentExpired", err)
	}
}

func TestValidateTransitiveRevocation(t *testing.T) {
	s := newTestStore(20)
	root := mustMint(t, s, "assistant", []string{"a", "b", "c", "d"}, 0, 1000)

	// Build a delegation chain several levels deep.
	parent := root
	scopes := [][]string{{"a", "b", "c"}, {"a", "b"}, {"a"}}
	expiry := 900
	for _, scope := range scopes {
		child, err := s.Delegate(parent.ID, "", scope, Validity{NotBefore: at(20), NotAfter: at(expiry)})
		if err != nil {
			t.Fatalf("delegate %v: %v", scope, err)
		}
		parent = child
		expiry -= 100
	}

	if got := s.Validate(parent.ID, at(30)); got != StatusValid {
		t.Fatalf("leaf status before revoke = %s, want valid", got)
	}

	s.Revoke(root.ID)

	if got := s.Validate(parent.ID, at(30)); got != StatusRevoked {
		t.Errorf("leaf status after root revoke = %s, want revoked", got)
	}
}

func TestValidateOwnWindowOnly(t *testing.T) {
	s := newTestStore(20)
	token := mustMint(t, s, "assistant", []string{"a"}, 10, 100)

	cases := []struct {
		atSeconds int
		want      Status
	}{
		{5, StatusExpired}, // pre-issuance
		{10, StatusValid},
		{99, StatusValid},
		{100, StatusExpired}, // inclusive boundary
		{500, StatusExpired},
	}
	for _, c := range cases {
		if got := s.Validate(token.ID, at(c.atSeconds)); got != c.want {
			t.Errorf("validate at t+%ds = %s, want %s", c.atSeconds, got, c.want)
		}
	}
}

func TestValidateUnknownTokenFailsClosed(t *testing.T) {
	s := newTestStore(0)
	if got := s.Validate("tok-missing", at(0)); got != StatusRevoked {
		t.Errorf("unknown token status = %s, want revoked", got)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s := newTestStore(20)
	token := mustMint(t, s, "assistant", []string{"a"}, 0, 100)

	s.Revoke(token.ID)
	first := s.Validate(token.ID, at(30))
	s.Revoke(token.ID)
	second := s.Validate(token.ID, at(30))

	if first != StatusRevoked || second != StatusRevoked {
		t.Errorf("statuses after double revoke = %s, %s; want revoked, revoked", first, second)
	}
}

func TestValidTokensSnapshot(t *testing.T) {
	s := newTestStore(20)
	live := mustMint(t, s, "assistant", []string{"a"}, 0, 100)
	dead := mustMint(t, s, "assistant", []string{"b"}, 0, 100)
	s.Revoke(dead.ID)

	valid := s.ValidTokens([]string{live.ID, dead.ID, "tok-missing"}, at(30))

	if len(valid) != 1 || valid[0].ID != live.ID {
		t.Fatalf("valid tokens = %v, want only %s", valid, live.ID)
	}

	// Mutating the snapshot copy must not leak into the store.
	valid[0].Revoked = true
	if got := s.Validate(live.ID, at(30)); got != StatusValid {
		t.Errorf("store token mutated through snapshot copy: %s", got)
	}
}

func TestRevalidateOnRestoreStrips(t *testing.T) {
	s := newTestStore(20)
	keep := mustMint(t, s, "assistant", []string{"a"}, 0, 1000)
	expiring := mustMint(t, s, "assistant", []string{"b"}, 0, 100)
	revoked := mustMint(t, s, "assistant", []string{"c"}, 0, 1000)
	s.Revoke(revoked.ID)

	// Restore happens after the expiring token's window has closed.
	surviving, stripped := s.RevalidateOnRestore([]string{keep.ID, expiring.ID, revoked.ID}, at(200))

	if len(surviving) != 1 || surviving[0].ID != keep.ID {
		t.Fatalf("surviving = %v, want only %s", surviving, keep.ID)
	}
	if len(stripped) != 2 {
		t.Fatalf("stripped = %v, want 2 entries", stripped)
	}
	reasons := map[string]Status{}
	for _, st := range stripped {
		reasons[st.TokenID] = st.Status
	}
	if reasons[expiring.ID] != StatusExpired {
		t.Errorf("expiring token stripped as %s, want expired", reasons[expiring.ID])
	}
	if reasons[revoked.ID] != StatusRevoked {
		t.Errorf("revoked token stripped as %s, want revoked", reasons[revoked.ID])
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := newTestStore(20)
	root := mustMint(t, s, "assistant", []string{"a", "b"}, 0, 1000)
	child, err := s.Delegate(root.ID, "", []string{"a"}, Validity{NotBefore: at(20), NotAfter: at(500)})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	s.Revoke(child.ID)

	restored := NewStore(FixedClock{At: at(20)})
	restored.Restore(s.All())

	if got := restored.Validate(root.ID, at(30)); got != StatusValid {
		t.Errorf("restored root status = %s, want valid", got)
	}
	if got := restored.Validate(child.ID, at(30)); got != StatusRevoked {
		t.Errorf("restored child status = %s, want revoked", got)
	}
}

func TestConcurrentRevokeDuringValidation(t *testing.T) {
	s := newTestStore(20)
	token := mustMint(t, s, "assistant", []string{"a"}, 0, 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			status := s.Validate(token.ID, at(30))
			if status != StatusValid && status != StatusRevoked {
				t.Errorf("observed half-applied state: %s", status)
				return
			}
		}
	}()
	s.Revoke(token.ID)
	<-done
}
