package feed

import (
	"fmt"
	"strings"
)

// MessageInterest is the category of messages a session is subscribed to.
// Values are compared by name; only the package-level values exist.
type MessageInterest struct {
	name  string
	scope Scope
}

var (
	All           = MessageInterest{name: "all"}
	LiveOnly      = MessageInterest{name: "live", scope: ScopeLive}
	PrematchOnly  = MessageInterest{name: "prematch", scope: ScopePrematch}
	VirtualSports = MessageInterest{name: "virtual", scope: ScopeVirtual}
	HighPriority  = MessageInterest{name: "high_priority"}
	LowPriority   = MessageInterest{name: "low_priority"}
	// SystemAlive is the interest of the system session, which only carries alives.
	SystemAlive = MessageInterest{name: "system_alive"}
)

var allInterests = []MessageInterest{All, LiveOnly, PrematchOnly, VirtualSports, HighPriority, LowPriority, SystemAlive}

// ParseInterest resolves a configured session interest name.
func ParseInterest(name string) (MessageInterest, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, mi := range allInterests {
		if mi.name == name {
			return mi, nil
		}
	}
	return MessageInterest{}, fmt.Errorf("unknown message interest %q", name)
}

func (mi MessageInterest) Name() string   { return mi.name }
func (mi MessageInterest) String() string { return mi.name }

// BoundScope returns the producer scope this interest is restricted to, if any.
func (mi MessageInterest) BoundScope() (Scope, bool) {
	return mi.scope, mi.scope != 0
}

// IsScopeBound reports whether the interest maps to exactly one producer scope.
func (mi MessageInterest) IsScopeBound() bool {
	return mi.scope != 0
}

// RelevantTo reports whether sessions with this interest can carry messages of a
// producer with the given scopes.
func (mi MessageInterest) RelevantTo(scopes ScopeSet) bool {
	if s, ok := mi.BoundScope(); ok {
		return scopes.Has(s)
	}
	return true
}

// InterestSet is a small set of interests keyed by name.
type InterestSet map[MessageInterest]struct{}

// NewInterestSet builds a set from the given interests.
func NewInterestSet(interests ...MessageInterest) InterestSet {
	set := make(InterestSet, len(interests))
	for _, mi := range interests {
		set[mi] = struct{}{}
	}
	return set
}

func (s InterestSet) Add(mi MessageInterest) { s[mi] = struct{}{} }

func (s InterestSet) Has(mi MessageInterest) bool {
	_, ok := s[mi]
	return ok
}

// Equal reports whether both sets hold exactly the same interests.
func (s InterestSet) Equal(other InterestSet) bool {
	if len(s) != len(other) {
		return false
	}
	for mi := range s {
		if !other.Has(mi) {
			return false
		}
	}
	return true
}

// ContainsAll reports whether every interest in other is in s.
func (s InterestSet) ContainsAll(other InterestSet) bool {
	for mi := range other {
		if !s.Has(mi) {
			return false
		}
	}
	return true
}

// Sorted returns the interests in declaration order, for stable logs.
func (s InterestSet) Sorted() []MessageInterest {
	out := make([]MessageInterest, 0, len(s))
	for _, mi := range allInterests {
		if s.Has(mi) {
			out = append(out, mi)
		}
	}
	return out
}

// Names returns the interest names in declaration order.
func (s InterestSet) Names() []string {
	sorted := s.Sorted()
	names := make([]string, len(sorted))
	for i, mi := range sorted {
		names[i] = mi.name
	}
	return names
}
