package authority

import (
	"sort"
	"time"
)

// Token is a revocable, delegatable capability grant. Tokens are never
// deleted: revocation flips a flag so delegation lineage stays auditable.
type Token struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	// Scope is the sorted set of scope-resource identifiers the token
	// permits.
	Scope []string `json:"scope"`
	// IssuedAt is the start of the validity window.
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is the end of the validity window; the boundary is
	// inclusive (a token is expired at exactly ExpiresAt). Zero means no
	// expiry.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	// ParentID is the delegating token's ID; empty for root tokens.
	ParentID string `json:"parent_id,omitempty"`
	Revoked  bool   `json:"revoked"`
}

// Validity is a token validity window. A zero NotAfter means no expiry.
type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// Status is the outcome of validating one token at a point in time.
type Status string

const (
	StatusValid   Status = "valid"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// HasScope reports whether the token's scope contains the resource.
func (t *Token) HasScope(resource string) bool {
	i := sort.SearchStrings(t.Scope, resource)
	return i < len(t.Scope) && t.Scope[i] == resource
}

// expiredAt reports whether the token's own window excludes the given
// time. Pre-issuance counts as expired: the token has no effect outside
// its window in either direction.
func (t *Token) expiredAt(at time.Time) bool {
	if at.Before(t.IssuedAt) {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !at.Before(t.ExpiresAt)
}

// clone returns a copy safe to hand outside the store lock.
func (t *Token) clone() Token {
	c := *t
	c.Scope = append([]string(nil), t.Scope...)
	return c
}

// normalizeScope sorts and de-duplicates scope resources.
func normalizeScope(scope []string) []string {
	out := append([]string(nil), scope...)
	sort.Strings(out)
	dedup := out[:0]
	for i, s := range out {
		if i == 0 || s != out[i-1] {
			dedup = append(dedup, s)
		}
	}
	return dedup
}

// isStrictSubset reports whether child is a non-empty strict subset of
// parent. Both slices must be normalized. Equal scopes are rejected:
// equal-scope "delegation" is lateral privilege duplication, not
// narrowing.
func isStrictSubset(child, parent []string) bool {
	if len(child) == 0 || len(child) >= len(parent) {
		return false
	}
	j := 0
	for _, c := range child {
		for j < len(parent) && parent[j] < c {
			j++
		}
		if j >= len(parent) || parent[j] != c {
			return false
		}
		j++
	}
	return true
}
