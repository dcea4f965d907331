package conflict

import (
	"regexp"
	"sync"
)

// AnyEntityType matches every entity type in a rule
const AnyEntityType = "*"

var patternCache sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// Matches reports whether the rule applies to a conflict of the given shape.
// A rule with an invalid field pattern matches nothing.
func (r *Rule) Matches(entityType string, conflictType Type, fields []string) bool {
	if !r.IsActive || r.ConflictType != conflictType {
		return false
	}
	if r.EntityType != entityType && r.EntityType != AnyEntityType {
		return false
	}
	if r.FieldPattern == "" {
		return true
	}
	re, err := compilePattern(r.FieldPattern)
	if err != nil {
		return false
	}
	for _, f := range fields {
		if re.MatchString(f) {
			return true
		}
	}
	return false
}

// SelectRule picks the matching rule with the highest priority. Rules with equal
// priority keep the order of the slice, which callers supply in insertion order.
func SelectRule(rules []*Rule, entityType string, conflictType Type, fields []string) *Rule {
	var best *Rule
	for _, r := range rules {
		if !r.Matches(entityType, conflictType, fields) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}
