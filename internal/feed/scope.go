package feed

import (
	"fmt"
	"strings"
)

// Scope is one of the message scopes a producer can declare.
type Scope uint8

const (
	ScopeLive Scope = 1 << iota
	ScopePrematch
	ScopeVirtual
	// ScopeReplay marks a replay-server producer; it never takes part in recovery.
	ScopeReplay
)

var scopeNames = []struct {
	scope Scope
	name  string
}{
	{ScopeLive, "live"},
	{ScopePrematch, "prematch"},
	{ScopeVirtual, "virt"},
	{ScopeReplay, "replay"},
}

func (s Scope) String() string {
	for _, sn := range scopeNames {
		if sn.scope == s {
			return sn.name
		}
	}
	return fmt.Sprintf("scope(%d)", uint8(s))
}

// ScopeSet is the parsed form of a producer scope string such as "live|prematch".
type ScopeSet uint8

// ParseScopes parses a '|' separated scope string. Unknown tokens are an error.
func ParseScopes(raw string) (ScopeSet, error) {
	var set ScopeSet
	for _, token := range strings.Split(raw, "|") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		found := false
		for _, sn := range scopeNames {
			if sn.name == token {
				set |= ScopeSet(sn.scope)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown producer scope %q", token)
		}
	}
	return set, nil
}

// Has reports whether s is part of the set.
func (ss ScopeSet) Has(s Scope) bool {
	return ss&ScopeSet(s) != 0
}

// IsReplay reports whether the producer only serves the replay environment.
func (ss ScopeSet) IsReplay() bool {
	return ss.Has(ScopeReplay)
}

// Interests returns the scope-bound interests matching the set, in declaration order.
func (ss ScopeSet) Interests() []MessageInterest {
	var out []MessageInterest
	for _, mi := range allInterests {
		if s, ok := mi.BoundScope(); ok && ss.Has(s) {
			out = append(out, mi)
		}
	}
	return out
}

func (ss ScopeSet) String() string {
	var parts []string
	for _, sn := range scopeNames {
		if ss.Has(sn.scope) {
			parts = append(parts, sn.name)
		}
	}
	return strings.Join(parts, "|")
}
