package analyzer

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
	"github.com/noam-bash/flare-saferun/internal/osv"
)

// stubOracle returns canned results keyed by "ecosystem:name@version" and
// records every query it receives.
type stubOracle struct {
	mu      sync.Mutex
	results map[string]osv.Result
	queries []string
}

func newStubOracle() *stubOracle {
	return &stubOracle{results: map[string]osv.Result{}}
}

func (s *stubOracle) set(key string, res osv.Result) {
	s.results[key] = res
}

func (s *stubOracle) Query(_ context.Context, ecosystem, name, version string) osv.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ecosystem + ":" + name + "@" + version
	s.queries = append(s.queries, key)
	return s.results[key]
}

func (s *stubOracle) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func TestExtractPackages(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected []Package
	}{
		{
			name:     "npm install with version",
			command:  "npm install express@4.16.0",
			expected: []Package{{Ecosystem: "npm", Name: "express", Version: "4.16.0"}},
		},
		{
			name:     "npm i shorthand",
			command:  "npm i lodash@4.17.20 axios@0.21.0",
			expected: []Package{{Ecosystem: "npm", Name: "lodash", Version: "4.17.20"}, {Ecosystem: "npm", Name: "axios", Version: "0.21.0"}},
		},
		{
			name:     "scoped package keeps scope",
			command:  "npm add @scope/pkg@1.0.0",
			expected: []Package{{Ecosystem: "npm", Name: "@scope/pkg", Version: "1.0.0"}},
		},
		{
			name:     "scoped package without version dropped",
			command:  "npm install @types/node",
			expected: nil,
		},
		{
			name:     "unversioned dropped",
			command:  "npm install express",
			expected: nil,
		},
		{
			name:     "npm flags skipped",
			command:  "npm install --save-dev typescript@5.1.0",
			expected: []Package{{Ecosystem: "npm", Name: "typescript", Version: "5.1.0"}},
		},
		{
			name:     "pip pinned requirement",
			command:  "pip install requests==2.25.0",
			expected: []Package{{Ecosystem: "PyPI", Name: "requests", Version: "2.25.0"}},
		},
		{
			name:     "pip3 range requirement",
			command:  "pip3 install 'django>=3.0'",
			expected: []Package{{Ecosystem: "PyPI", Name: "django", Version: "3.0"}},
		},
		{
			name:     "pip unversioned dropped",
			command:  "pip install flask",
			expected: nil,
		},
		{
			name:     "cargo add",
			command:  "cargo add serde@1.0.100",
			expected: []Package{{Ecosystem: "crates.io", Name: "serde", Version: "1.0.100"}},
		},
		{
			name:     "cargo install",
			command:  "cargo install ripgrep@13.0.0",
			expected: []Package{{Ecosystem: "crates.io", Name: "ripgrep", Version: "13.0.0"}},
		},
		{
			name:     "sudo stripped",
			command:  "sudo npm install express@4.16.0",
			expected: []Package{{Ecosystem: "npm", Name: "express", Version: "4.16.0"}},
		},
		{
			name:     "npm run is not an install",
			command:  "npm run build",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := parseForTest(t, tt.command)
			var got []Package
			for _, seg := range segments {
				got = append(got, ExtractPackages(seg)...)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPackageVulnAnalyzer_VulnerablePackage(t *testing.T) {
	oracle := newStubOracle()
	oracle.set("npm:express@4.16.0", osv.Result{Vulns: []osv.Vulnerability{
		{ID: "CVE-2022-24999", Severity: []osv.SeverityEntry{{Type: "CVSS_V3", Score: "7.5"}}},
	}})

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install express@4.16.0"), "")

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, flaretypes.CategoryPackageVuln, f.Category)
	assert.Equal(t, flaretypes.RiskLevelHigh, f.Severity)
	assert.Contains(t, f.Description, "`express@4.16.0` has 1 known vulnerability")
	assert.Contains(t, f.Description, "CVE-2022-24999")
	assert.Contains(t, f.Description, "(CVSS 7.5)")
	assert.False(t, result.Partial)
}

func TestPackageVulnAnalyzer_ManyCVEs(t *testing.T) {
	oracle := newStubOracle()
	oracle.set("npm:lodash@4.17.11", osv.Result{Vulns: []osv.Vulnerability{
		{ID: "CVE-2019-10744", Severity: []osv.SeverityEntry{{Type: "CVSS_V3", Score: "9.1"}}},
		{ID: "CVE-2020-8203"},
		{ID: "GHSA-29mw-wpgm-hmr9"},
		{ID: "CVE-2021-23337"},
		{ID: "MAL-0001"},
	}})

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install lodash@4.17.11"), "")

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, flaretypes.RiskLevelCritical, f.Severity)
	assert.Contains(t, f.Description, "has 5 known vulnerabilities")
	assert.Contains(t, f.Description, "CVE-2019-10744, CVE-2020-8203, GHSA-29mw-wpgm-hmr9")
	assert.Contains(t, f.Description, "and 1 more")
	assert.NotContains(t, f.Description, "MAL-0001")
}

func TestPackageVulnAnalyzer_CleanPackage(t *testing.T) {
	oracle := newStubOracle()
	oracle.set("npm:express@5.0.0", osv.Result{})

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install express@5.0.0"), "")

	assert.Empty(t, result.Findings)
	assert.False(t, result.Partial)
}

func TestPackageVulnAnalyzer_LookupFailure(t *testing.T) {
	oracle := newStubOracle()
	oracle.set("npm:timeout-pkg@1.0.0", osv.Result{Err: "OSV lookup failed: request timed out"})

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install timeout-pkg@1.0.0"), "")

	require.Len(t, result.Findings, 1)
	assert.True(t, result.Partial)
	assert.Equal(t, flaretypes.RiskLevelMedium, result.Findings[0].Severity)
	assert.Contains(t, result.Findings[0].Description, "vulnerability status unknown")
	assert.Contains(t, result.Findings[0].Description, "request timed out")
}

func TestPackageVulnAnalyzer_MergeOrderIsStable(t *testing.T) {
	oracle := newStubOracle()
	oracle.set("npm:a@1.0.0", osv.Result{Vulns: []osv.Vulnerability{{ID: "CVE-1"}}})
	oracle.set("npm:b@1.0.0", osv.Result{Vulns: []osv.Vulnerability{{ID: "CVE-2"}}})
	oracle.set("npm:c@1.0.0", osv.Result{Vulns: []osv.Vulnerability{{ID: "CVE-3"}}})

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install a@1.0.0 b@1.0.0 c@1.0.0"), "")

	require.Len(t, result.Findings, 3)
	assert.True(t, strings.HasPrefix(result.Findings[0].Description, "`a@1.0.0`"))
	assert.True(t, strings.HasPrefix(result.Findings[1].Description, "`b@1.0.0`"))
	assert.True(t, strings.HasPrefix(result.Findings[2].Description, "`c@1.0.0`"))
}

func TestPackageVulnAnalyzer_Allowlist(t *testing.T) {
	oracle := newStubOracle()
	allowlist := NewPackageAllowlist([]string{"express@4.16.0", "trusted-tool"})

	a := NewPackageVulnAnalyzer(oracle, allowlist)
	result := a.Analyze(context.Background(),
		parseForTest(t, "npm install express@4.16.0 trusted-tool@2.0.0"), "")

	assert.Empty(t, result.Findings)
	assert.Zero(t, oracle.queryCount())
}

func TestPackageVulnAnalyzer_NoVersionNoQuery(t *testing.T) {
	oracle := newStubOracle()

	a := NewPackageVulnAnalyzer(oracle, nil)
	result := a.Analyze(context.Background(), parseForTest(t, "npm install express"), "")

	assert.Empty(t, result.Findings)
	assert.False(t, result.Partial)
	assert.Zero(t, oracle.queryCount())
}
