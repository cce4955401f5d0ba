package keys

import (
	"fmt"
	"sort"
	"strings"
)

// Pattern names either a single key or, when it ends with CollectionSuffix,
// every key of a collection.
type Pattern string

const (
	CollectionSuffix = "_"

	// All matches every key. Only subscribers use it.
	All Pattern = "*"
)

// Collections
const (
	CollectionReport Pattern = "report_"
	CollectionPolicy Pattern = "policy_"
)

// Single keys
const (
	PersonalDetailsList   Pattern = "personalDetailsList"
	IsUsingMemoryOnlyKeys Pattern = "isUsingMemoryOnlyKeys"
)

func (p Pattern) String() string {
	return string(p)
}

func (p Pattern) IsCollection() bool {
	return len(p) > len(CollectionSuffix) && strings.HasSuffix(string(p), CollectionSuffix)
}

// Matches reports whether key belongs to p.
func (p Pattern) Matches(key string) bool {
	if p == All {
		return key != ""
	}
	if p.IsCollection() {
		return len(key) > len(p) && strings.HasPrefix(key, string(p))
	}
	return key == string(p)
}

// CollectionKey builds the member key for id inside collection.
func CollectionKey(collection Pattern, id string) string {
	return string(collection) + id
}

// ParsePatterns validates raw pattern strings, typically from config.
func ParsePatterns(raw []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, fmt.Errorf("empty key pattern")
		}
		patterns = append(patterns, Pattern(r))
	}
	return patterns, nil
}

// PatternSet is an unordered set of patterns. The zero value is an empty set.
type PatternSet map[Pattern]struct{}

func NewPatternSet(patterns ...Pattern) PatternSet {
	set := make(PatternSet, len(patterns))
	for _, p := range patterns {
		set[p] = struct{}{}
	}
	return set
}

func (s PatternSet) Len() int {
	return len(s)
}

func (s PatternSet) Contains(p Pattern) bool {
	_, ok := s[p]
	return ok
}

// Matches reports whether any pattern in the set matches key.
func (s PatternSet) Matches(key string) bool {
	for p := range s {
		if p.Matches(key) {
			return true
		}
	}
	return false
}

func (s PatternSet) Equal(other PatternSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

func (s PatternSet) Clone() PatternSet {
	clone := make(PatternSet, len(s))
	for p := range s {
		clone[p] = struct{}{}
	}
	return clone
}

// Sorted returns the patterns in lexical order.
func (s PatternSet) Sorted() []Pattern {
	out := make([]Pattern, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PatternSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}
