package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// PathTier classifies how sensitive a matched path is.
type PathTier string

// Sensitivity tiers, from most to least specific handling.
const (
	TierCredential PathTier = "credential"
	TierAgent      PathTier = "agent"
	TierSystemAuth PathTier = "system-auth"
	TierOther      PathTier = "other"
)

// pathPattern is one compiled sensitive-path glob with its tier label.
type pathPattern struct {
	raw  string
	tier PathTier
	g    glob.Glob
}

// defaultPatternSpec is the built-in sensitive pattern set.
var defaultPatternSpec = []struct {
	pattern string
	tier    PathTier
}{
	{"~/.ssh/*", TierCredential},
	{"~/.aws/*", TierCredential},
	{"~/.config/gcloud/*", TierCredential},
	{"*id_rsa*", TierCredential},
	{"*.pem", TierCredential},
	{"*.key", TierCredential},
	{"~/.claude/*", TierAgent},
	{".cursorrules", TierAgent},
	{"CLAUDE.md", TierAgent},
	{"/etc/shadow", TierSystemAuth},
	{"/etc/sudoers", TierSystemAuth},
	{"/etc/passwd", TierOther},
	{".env", TierOther},
	{"/usr/bin/*", TierOther},
	{"/usr/local/bin/*", TierOther},
}

// readVerbs and writeVerbs are the commands whose path arguments are
// checked. sed and awk appear in both: they read by default and write
// with in-place flags, and the distinction is not worth modelling.
var (
	readVerbs = map[string]struct{}{
		"cat": {}, "head": {}, "tail": {}, "less": {}, "more": {}, "bat": {},
		"grep": {}, "rg": {}, "awk": {}, "sed": {}, "wc": {}, "sort": {}, "uniq": {},
	}
	writeVerbs = map[string]struct{}{
		"cp": {}, "mv": {}, "tee": {}, "dd": {}, "install": {}, "rsync": {},
		"sed": {}, "awk": {}, "nano": {}, "vim": {}, "vi": {}, "emacs": {},
	}
)

// SensitivePathAnalyzer flags reads and writes of paths matching the
// sensitive glob set.
type SensitivePathAnalyzer struct {
	home     string
	patterns []pathPattern
}

// NewSensitivePathAnalyzer compiles the default pattern set plus any
// user-supplied globs (classified as tier "other"). Patterns that fail to
// compile are skipped; the analyzer must stay total.
func NewSensitivePathAnalyzer(home string, extraPatterns []string) *SensitivePathAnalyzer {
	a := &SensitivePathAnalyzer{home: home}
	for _, spec := range defaultPatternSpec {
		a.addPattern(spec.pattern, spec.tier)
	}
	for _, pattern := range extraPatterns {
		a.addPattern(pattern, TierOther)
	}
	return a
}

func (a *SensitivePathAnalyzer) addPattern(pattern string, tier PathTier) {
	expanded := a.expandTilde(pattern)
	g, err := glob.Compile(expanded, '/')
	if err != nil {
		return
	}
	a.patterns = append(a.patterns, pathPattern{raw: pattern, tier: tier, g: g})
}

// Name implements Analyzer.
func (a *SensitivePathAnalyzer) Name() string { return "sensitive-path" }

// Analyze implements Analyzer. Every non-flag argument of read/write verb
// segments and every redirect target is matched against the pattern set.
func (a *SensitivePathAnalyzer) Analyze(_ context.Context, segments []flaretypes.Segment, cwd string) flaretypes.AnalyzerResult {
	var findings []flaretypes.Finding

	for _, seg := range segments {
		_, reads := readVerbs[seg.Verb]
		_, writes := writeVerbs[seg.Verb]

		if reads || writes {
			access := "read"
			if writes {
				access = "write"
			}
			for _, arg := range seg.Args {
				if isFlag(arg) {
					continue
				}
				if f, ok := a.match(arg, cwd, access); ok {
					findings = append(findings, f)
				}
			}
		}

		for _, redirect := range seg.Redirects {
			if f, ok := a.match(redirect.Target, cwd, "write"); ok {
				findings = append(findings, f)
			}
		}
	}

	return flaretypes.AnalyzerResult{Findings: tagFindings(a.Name(), findings)}
}

// match tests a candidate path against the compiled patterns: the
// expanded full path, the raw path, and the basename each count.
func (a *SensitivePathAnalyzer) match(path, cwd, access string) (flaretypes.Finding, bool) {
	expanded := a.expandTilde(path)
	if !filepath.IsAbs(expanded) && cwd != "" {
		expanded = filepath.Join(cwd, expanded)
	}
	base := filepath.Base(path)

	for _, p := range a.patterns {
		if p.g.Match(expanded) || p.g.Match(path) || p.g.Match(base) {
			return flaretypes.Finding{
				Category: flaretypes.CategorySensitivePath,
				Severity: pathSeverity(access, p.tier),
				Description: fmt.Sprintf("%s access to sensitive path %s (matches %s pattern %q)",
					access, path, p.tier, p.raw),
			}, true
		}
	}
	return flaretypes.Finding{}, false
}

// pathSeverity applies the access/tier severity matrix.
func pathSeverity(access string, tier PathTier) flaretypes.RiskLevel {
	if access == "write" {
		switch tier {
		case TierCredential, TierSystemAuth:
			return flaretypes.RiskLevelCritical
		case TierAgent:
			return flaretypes.RiskLevelHigh
		default:
			return flaretypes.RiskLevelMedium
		}
	}
	if tier == TierSystemAuth {
		return flaretypes.RiskLevelHigh
	}
	return flaretypes.RiskLevelMedium
}

func (a *SensitivePathAnalyzer) expandTilde(s string) string {
	if a.home == "" {
		return s
	}
	if s == "~" {
		return a.home
	}
	if strings.HasPrefix(s, "~/") {
		return a.home + s[1:]
	}
	return s
}
