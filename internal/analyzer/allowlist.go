package analyzer

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// PackageAllowlist holds packages exempt from oracle lookups. Entries are
// "name", "name@version", or "name@<constraint>" where the constraint is
// a version-range expression such as ">=4.17.21".
type PackageAllowlist struct {
	names       map[string]struct{}
	exact       map[string]struct{}
	constraints map[string][]goversion.Constraints
}

// NewPackageAllowlist parses allowlist entries. Malformed constraint
// entries are kept as exact-match strings so a typo narrows the
// allowlist instead of widening it.
func NewPackageAllowlist(entries []string) *PackageAllowlist {
	al := &PackageAllowlist{
		names:       make(map[string]struct{}),
		exact:       make(map[string]struct{}),
		constraints: make(map[string][]goversion.Constraints),
	}
	for _, entry := range entries {
		at := strings.LastIndex(entry, "@")
		if at <= 0 {
			al.names[entry] = struct{}{}
			continue
		}
		name, spec := entry[:at], entry[at+1:]
		if strings.ContainsAny(spec, "><=~^,") {
			if c, err := goversion.NewConstraint(spec); err == nil {
				al.constraints[name] = append(al.constraints[name], c)
				continue
			}
		}
		al.exact[entry] = struct{}{}
	}
	return al
}

// Contains reports whether the package is allowlisted, either by bare
// name, exact name@version, or a matching version constraint. Versions
// that fail to parse never satisfy a constraint.
func (al *PackageAllowlist) Contains(name, version string) bool {
	if _, ok := al.names[name]; ok {
		return true
	}
	if _, ok := al.exact[name+"@"+version]; ok {
		return true
	}
	constraints, ok := al.constraints[name]
	if !ok {
		return false
	}
	v, err := goversion.NewVersion(version)
	if err != nil {
		return false
	}
	for _, c := range constraints {
		if c.Check(v) {
			return true
		}
	}
	return false
}
