// Package policy decides which reviewer roles may decide which application types.
package policy

import "sort"

// Policy maps application types to the roles allowed to decide them.
// Types without an entry fall back to the default role.
type Policy struct {
	reviewers   map[string][]string
	defaultRole string
}

// New returns a Policy. reviewers is copied.
func New(reviewers map[string][]string, defaultRole string) *Policy {
	cp := make(map[string][]string, len(reviewers))
	for t, roles := range reviewers {
		cp[t] = append([]string(nil), roles...)
	}
	return &Policy{reviewers: cp, defaultRole: defaultRole}
}

// RolesFor returns the roles allowed to decide appType.
func (p *Policy) RolesFor(appType string) []string {
	if roles, ok := p.reviewers[appType]; ok && len(roles) > 0 {
		return roles
	}
	if p.defaultRole == "" {
		return nil
	}
	return []string{p.defaultRole}
}

// CanDecide reports whether any of roles may decide appType.
func (p *Policy) CanDecide(appType string, roles []string) bool {
	for _, want := range p.RolesFor(appType) {
		for _, have := range roles {
			if have != "" && have == want {
				return true
			}
		}
	}
	return false
}

// ReviewableTypes returns, sorted, the known types that roles may decide.
func (p *Policy) ReviewableTypes(roles []string) []string {
	out := []string{}
	for t := range p.reviewers {
		if p.CanDecide(t, roles) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
