// Package label defines the integrity and confidentiality labels carried
// by runtime values, and the join rules used by provenance closure.
package label

import (
	"fmt"
	"sort"
	"strings"
)

// IntegrityKind discriminates the three integrity label shapes.
type IntegrityKind int

const (
	// KindUntrusted marks a value whose origin is not trusted.
	KindUntrusted IntegrityKind = iota
	// KindTrusted marks a value produced by trusted code from trusted inputs.
	KindTrusted
	// KindVerified marks a value attested by a host-registered verifier.
	KindVerified
)

// Integrity is an integrity lattice element. Untrusted < Trusted, and
// Verified(tag) is incomparable with both: it satisfies a Verified(tag)
// requirement only for an exactly matching tag, never by subsumption.
type Integrity struct {
	Kind IntegrityKind
	// Tag is the verifier tag; meaningful only when Kind is KindVerified.
	Tag string
}

// Untrusted returns the bottom integrity label.
func Untrusted() Integrity { return Integrity{Kind: KindUntrusted} }

// Trusted returns the trusted integrity label.
func Trusted() Integrity { return Integrity{Kind: KindTrusted} }

// Verified returns the verified integrity label for the given tag.
func Verified(tag string) Integrity {
	return Integrity{Kind: KindVerified, Tag: tag}
}

// Join combines two integrity labels toward the weaker element.
// Equal labels join to themselves; any unequal pair joins to Untrusted.
// In particular Verified(x) joined with Trusted is Untrusted: a verified
// fact does not launder an otherwise-untrusted co-dependency.
func (i Integrity) Join(other Integrity) Integrity {
	if i == other {
		return i
	}
	return Untrusted()
}

// String renders the label in the policy document vocabulary.
func (i Integrity) String() string {
	switch i.Kind {
	case KindTrusted:
		return "Trusted"
	case KindVerified:
		return fmt.Sprintf("Verified(%s)", i.Tag)
	default:
		return "Untrusted"
	}
}

// ParseIntegrity parses the policy document vocabulary back into a label.
// Accepted forms: "Untrusted", "Trusted", "Verified(<tag>)".
func ParseIntegrity(s string) (Integrity, error) {
	switch {
	case s == "Untrusted":
		return Untrusted(), nil
	case s == "Trusted":
		return Trusted(), nil
	case strings.HasPrefix(s, "Verified(") && strings.HasSuffix(s, ")"):
		tag := s[len("Verified(") : len(s)-1]
		if tag == "" {
			return Integrity{}, fmt.Errorf("label: verified integrity requires a tag")
		}
		return Verified(tag), nil
	default:
		return Integrity{}, fmt.Errorf("label: unknown integrity label %q", s)
	}
}

// Confidentiality is a set of opaque sensitivity tags. The empty set means
// no confidentiality markers.
type Confidentiality struct {
	tags map[string]bool
}

// NewConfidentiality builds a tag set. Duplicates collapse.
func NewConfidentiality(tags ...string) Confidentiality {
	c := Confidentiality{}
	if len(tags) == 0 {
		return c
	}
	c.tags = make(map[string]bool, len(tags))
	for _, t := range tags {
		c.tags[t] = true
	}
	return c
}

// Join returns the union of both tag sets. The result is never smaller
// than either input (monotonic).
func (c Confidentiality) Join(other Confidentiality) Confidentiality {
	if len(other.tags) == 0 {
		return c
	}
	if len(c.tags) == 0 {
		return other
	}
	merged := make(map[string]bool, len(c.tags)+len(other.tags))
	for t := range c.tags {
		merged[t] = true
	}
	for t := range other.tags {
		merged[t] = true
	}
	return Confidentiality{tags: merged}
}

// Contains reports whether the set carries the given tag.
func (c Confidentiality) Contains(tag string) bool {
	return c.tags[tag]
}

// Intersects reports whether any of the given tags is in the set.
func (c Confidentiality) Intersects(tags []string) bool {
	for _, t := range tags {
		if c.tags[t] {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the set carries no tags.
func (c Confidentiality) IsEmpty() bool { return len(c.tags) == 0 }

// Tags returns the tag names in sorted order. Only names are exposed;
// underlying values never flow through labels.
func (c Confidentiality) Tags() []string {
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets carry exactly the same tags.
func (c Confidentiality) Equal(other Confidentiality) bool {
	if len(c.tags) != len(other.tags) {
		return false
	}
	for t := range c.tags {
		if !other.tags[t] {
			return false
		}
	}
	return true
}
