// Package policy compiles per-peer newsgroup subscription rules and
// evaluates whether a feed carries a given newsgroup, mirroring the pattern
// matching style used by the NNTP peering layer this daemon is derived from.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a single compiled subscription rule: an optional leading '!'
// inverts the match; a rule containing '*' is compiled to a glob-style
// regular expression; otherwise it is an exact, case-insensitive match.
type Rule struct {
	raw     string
	inverse bool
	glob    *regexp.Regexp
	exact   string
}

// NewRule compiles a rule string. The bare strings "*", "!*", and "!" are
// rejected as invalid, matching the source daemon's own PolicyRule guard.
func NewRule(rule string) (*Rule, error) {
	if rule == "*" || rule == "!*" || rule == "!" {
		return nil, fmt.Errorf("policy: invalid rule %q", rule)
	}
	r := &Rule{raw: rule}
	if strings.HasPrefix(rule, "!") {
		r.inverse = true
		rule = rule[1:]
	}
	if strings.Contains(rule, "*") {
		pattern := strings.ReplaceAll(rule, ".", "\\.")
		pattern = strings.ReplaceAll(pattern, "*", ".*")
		re, err := regexp.Compile("(?i)^" + pattern + "$")
		if err != nil {
			return nil, fmt.Errorf("policy: invalid rule %q: %w", rule, err)
		}
		r.glob = re
	} else {
		r.exact = strings.ToLower(rule)
	}
	return r, nil
}

// Allows reports whether this rule (after inversion) matches newsgroup.
func (r *Rule) Allows(newsgroup string) bool {
	var res bool
	if r.glob != nil {
		res = r.glob.MatchString(newsgroup)
	} else {
		res = strings.ToLower(newsgroup) == r.exact
	}
	if r.inverse {
		return !res
	}
	return res
}

// Policy holds an ordered sequence of rules and answers whether a newsgroup
// is carried: true if any rule matches (after inversion). An empty policy
// denies all groups.
type Policy struct {
	Rules []*Rule
}

// New compiles a Policy from a list of rule strings.
func New(rules []string) (*Policy, error) {
	p := &Policy{}
	for _, rs := range rules {
		r, err := NewRule(rs)
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

// FromConfig builds a Policy from a configuration mapping, taking only keys
// whose value is the literal "1" as enabled rules. Order is not guaranteed
// across restarts unless callers pass keys in a stable order; the feeds.ini
// loader in internal/config preserves file order.
func FromConfig(keys []string, values map[string]string) (*Policy, error) {
	var rules []string
	for _, k := range keys {
		if values[k] == "1" {
			rules = append(rules, k)
		}
	}
	return New(rules)
}

// AllowNewsgroup reports whether any rule in the policy allows newsgroup.
// An empty policy allows nothing.
func (p *Policy) AllowNewsgroup(newsgroup string) bool {
	for _, r := range p.Rules {
		if r.Allows(newsgroup) {
			return true
		}
	}
	return false
}

// AllowAny reports whether the policy allows at least one of groups.
func (p *Policy) AllowAny(groups []string) bool {
	for _, g := range groups {
		if p.AllowNewsgroup(g) {
			return true
		}
	}
	return false
}
