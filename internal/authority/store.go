// Package authority owns the set of minted capability tokens, their
// delegation lineage, and revocation state. One store instance belongs to
// one execution context and is passed by handle into every evaluation
// call; there is no process-wide ambient store.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delegation failure modes, checked in this order so a revoked or expired
// parent is rejected before scope and lifetime details are inspected.
var (
	ErrParentUnknown       = errors.New("authority: parent token unknown")
	ErrParentRevoked       = errors.New("authority: parent token revoked")
	ErrParentExpired       = errors.New("authority: parent token expired")
	ErrScopeNotNarrowed    = errors.New("authority: delegated scope must be a strict, non-empty subset of the parent scope")
	ErrLifetimeNotNarrowed = errors.New("authority: delegated validity must be contained within the parent window")
)

// ErrInvalidWindow rejects mint requests whose window never opens.
var ErrInvalidWindow = errors.New("authority: validity window is empty or inverted")

// Store holds every token ever minted in this execution. Revocation is a
// single flag flip under the store lock, so a concurrent evaluation sees
// either the fully-pre-revoke or fully-post-revoke state, never a
// half-applied one.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	clock  Clock
}

// NewStore creates an empty store using the given clock. A nil clock
// falls back to the system clock.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Store{
		tokens: make(map[string]*Token),
		clock:  clock,
	}
}

// Mint creates a root token. Minting is a host-trusted operation gated
// upstream; it succeeds for any well-formed request and requires no
// actor authority of its own.
func (s *Store) Mint(subject string, scope []string, validity Validity) (Token, error) {
	if subject == "" {
		return Token{}, fmt.Errorf("authority: subject cannot be empty")
	}
	normalized := normalizeScope(scope)
	if len(normalized) == 0 {
		return Token{}, fmt.Errorf("authority: scope cannot be empty")
	}
	if !validity.NotAfter.IsZero() && !validity.NotAfter.After(validity.NotBefore) {
		return Token{}, ErrInvalidWindow
	}

	token := &Token{
		ID:        "tok-" + uuid.NewString(),
		Subject:   subject,
		Scope:     normalized,
		IssuedAt:  validity.NotBefore,
		ExpiresAt: validity.NotAfter,
	}

	s.mu.Lock()
	s.tokens[token.ID] = token
	s.mu.Unlock()

	return token.clone(), nil
}

// Delegate derives a narrowed child token from parentID. Check order is
// fixed: unknown/revoked parent, expired parent, scope narrowing,
// lifetime narrowing. The child inherits the parent's subject unless an
// explicit subject is given.
func (s *Store) Delegate(parentID, subject string, narrowedScope []string, narrowed Validity) (Token, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.tokens[parentID]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrParentUnknown, parentID)
	}
	if s.revokedLocked(parent) {
		return Token{}, fmt.Errorf("%w: %s", ErrParentRevoked, parentID)
	}
	if parent.expiredAt(now) {
		return Token{}, fmt.Errorf("%w: %s", ErrParentExpired, parentID)
	}

	normalized := normalizeScope(narrowedScope)
	if !isStrictSubset(normalized, parent.Scope) {
		return Token{}, ErrScopeNotNarrowed
	}

	if !containedWindow(narrowed, parent) {
		return Token{}, ErrLifetimeNotNarrowed
	}

	if subject == "" {
		subject = parent.Subject
	}

	child := &Token{
		ID:        "tok-" + uuid.NewString(),
		Subject:   subject,
		Scope:     normalized,
		IssuedAt:  narrowed.NotBefore,
		ExpiresAt: narrowed.NotAfter,
		ParentID:  parent.ID,
	}
	s.tokens[child.ID] = child
	return child.clone(), nil
}

// containedWindow reports whether the narrowed window lies within the
// parent's window. Against an expiring parent the child's expiry must be
// strictly earlier — equal expiry is not a narrowing. A child without
// expiry is only contained when the parent also has none (no lifetime
// extension through delegation).
func containedWindow(narrowed Validity, parent *Token) bool {
	if narrowed.NotBefore.Before(parent.IssuedAt) {
		return false
	}
	if !narrowed.NotAfter.IsZero() && !narrowed.NotAfter.After(narrowed.NotBefore) {
		return false
	}
	if parent.ExpiresAt.IsZero() {
		return true
	}
	if narrowed.NotAfter.IsZero() {
		return false
	}
	return narrowed.NotAfter.Before(parent.ExpiresAt)
}

// Revoke flips the token's revoked flag. Idempotent; unknown IDs are a
// no-op so an administrative retry cannot fail. Revocation never affects
// decisions already evaluated against a pre-revoke validity snapshot.
func (s *Store) Revoke(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[tokenID]; ok {
		t.Revoked = true
	}
}

// Validate walks the delegation chain to the root. Revocation anywhere in
// the ancestry dominates; the token's own window decides expiry (parent
// windows were enforced at delegation time, so they need no re-walk).
func (s *Store) Validate(tokenID string, at time.Time) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked(tokenID, at)
}

func (s *Store) validateLocked(tokenID string, at time.Time) Status {
	token, ok := s.tokens[tokenID]
	if !ok {
		// Unknown tokens validate as revoked: fail closed.
		return StatusRevoked
	}
	if s.revokedLocked(token) {
		return StatusRevoked
	}
	if token.expiredAt(at) {
		return StatusExpired
	}
	return StatusValid
}

// revokedLocked walks the delegation chain to the root and reports
// whether the token or any ancestor is revoked. Transitive revocation is
// computed here, not stored, so revoking a root instantly covers every
// descendant.
func (s *Store) revokedLocked(token *Token) bool {
	seen := 0
	for t := token; t != nil; {
		if t.Revoked {
			return true
		}
		if t.ParentID == "" {
			return false
		}
		parent, ok := s.tokens[t.ParentID]
		if !ok {
			// Broken lineage cannot be proven unrevoked.
			return true
		}
		t = parent

		// Delegation chains are created parent-first, so depth is bounded
		// by the token count; guard anyway against a corrupted restore.
		seen++
		if seen > len(s.tokens) {
			return true
		}
	}
	return true
}

// ValidTokens resolves the held token IDs against a point-in-time
// snapshot of store state. The returned tokens are copies: a revoke
// issued after this call does not alter an evaluation already using the
// snapshot.
func (s *Store) ValidTokens(tokenIDs []string, at time.Time) []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	valid := make([]Token, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if s.validateLocked(id, at) != StatusValid {
			continue
		}
		valid = append(valid, s.tokens[id].clone())
	}
	return valid
}

// StrippedToken records a token removed during restore revalidation.
type StrippedToken struct {
	TokenID string
	Status  Status
}

// RevalidateOnRestore re-checks held tokens at the restore time and
// strips every token that is not Valid then — even one that was valid
// when the snapshot was taken. A token legitimately revoked while the
// execution was suspended must not regain effect on resume.
func (s *Store) RevalidateOnRestore(tokenIDs []string, at time.Time) (surviving []Token, stripped []StrippedToken) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range tokenIDs {
		status := s.validateLocked(id, at)
		if status == StatusValid {
			surviving = append(surviving, s.tokens[id].clone())
			continue
		}
		stripped = append(stripped, StrippedToken{TokenID: id, Status: status})
	}
	return surviving, stripped
}

// Get returns a copy of the token with the given ID.
func (s *Store) Get(tokenID string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return Token{}, false
	}
	return t.clone(), true
}

// All returns copies of every token, ordered by ID. Used by snapshot
// serialization, which needs a deterministic order.
func (s *Store) All() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t.clone())
	}
	sortTokens(out)
	return out
}

// Restore replaces the store contents with the given token table. Used
// when reconstructing from a snapshot; the caller is expected to follow
// up with RevalidateOnRestore for any held token set.
func (s *Store) Restore(tokens []Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*Token, len(tokens))
	for i := range tokens {
		t := tokens[i].clone()
		s.tokens[t.ID] = &t
	}
}

// Clock returns the store's injected clock.
func (s *Store) Clock() Clock { return s.clock }

func sortTokens(tokens []Token) {
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
}
