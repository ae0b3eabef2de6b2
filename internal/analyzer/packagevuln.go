package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
	"github.com/noam-bash/flare-saferun/internal/osv"
)

// maxOracleWorkers bounds concurrent OSV lookups per request so a long
// install command cannot flood the database.
const maxOracleWorkers = 10

// Package is one versioned package extracted from an install command.
type Package struct {
	Ecosystem string
	Name      string
	Version   string
}

// Oracle is the lookup dependency of the package-vulnerability analyzer.
// Satisfied by *osv.Client.
type Oracle interface {
	Query(ctx context.Context, ecosystem, name, version string) osv.Result
}

// PackageVulnAnalyzer extracts packages from install commands and queries
// the vulnerability oracle for each exact version.
type PackageVulnAnalyzer struct {
	oracle    Oracle
	allowlist *PackageAllowlist
}

// NewPackageVulnAnalyzer creates a PackageVulnAnalyzer. The allowlist may
// be nil.
func NewPackageVulnAnalyzer(oracle Oracle, allowlist *PackageAllowlist) *PackageVulnAnalyzer {
	return &PackageVulnAnalyzer{oracle: oracle, allowlist: allowlist}
}

// Name implements Analyzer.
func (a *PackageVulnAnalyzer) Name() string { return "package-vulnerability" }

// pipRequirementRe splits "name==1.2.3" style pip requirements.
var pipRequirementRe = regexp.MustCompile(`^([^=<>!]+?)(==|>=|<=|~=|!=)(.+)$`)

// Analyze implements Analyzer. Lookups fan out in parallel (bounded) and
// findings merge back in extraction order.
func (a *PackageVulnAnalyzer) Analyze(ctx context.Context, segments []flaretypes.Segment, _ string) flaretypes.AnalyzerResult {
	var packages []Package
	for _, seg := range segments {
		packages = append(packages, ExtractPackages(seg)...)
	}
	if a.allowlist != nil {
		kept := packages[:0]
		for _, pkg := range packages {
			if !a.allowlist.Contains(pkg.Name, pkg.Version) {
				kept = append(kept, pkg)
			}
		}
		packages = kept
	}
	if len(packages) == 0 {
		return flaretypes.AnalyzerResult{}
	}

	results := make([]osv.Result, len(packages))
	sem := make(chan struct{}, maxOracleWorkers)
	var wg sync.WaitGroup
	for i, pkg := range packages {
		wg.Add(1)
		go func(i int, pkg Package) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.oracle.Query(ctx, pkg.Ecosystem, pkg.Name, pkg.Version)
		}(i, pkg)
	}
	wg.Wait()

	var findings []flaretypes.Finding
	partial := false
	for i, res := range results {
		pkg := packages[i]
		if res.Failed() {
			partial = true
			findings = append(findings, vulnFinding(flaretypes.RiskLevelMedium,
				fmt.Sprintf("`%s@%s` — %s; vulnerability status unknown", pkg.Name, pkg.Version, res.Err)))
			continue
		}
		if len(res.Vulns) == 0 {
			continue
		}
		findings = append(findings, describeVulns(pkg, res.Vulns))
	}

	return flaretypes.AnalyzerResult{
		Findings: tagFindings(a.Name(), findings),
		Partial:  partial,
	}
}

// describeVulns builds the single finding for a vulnerable package.
func describeVulns(pkg Package, vulns []osv.Vulnerability) flaretypes.Finding {
	score, hasScore := highestCVSS(vulns)

	var cveIDs []string
	for _, v := range vulns {
		if strings.HasPrefix(v.ID, "CVE-") || strings.HasPrefix(v.ID, "GHSA-") {
			cveIDs = append(cveIDs, v.ID)
		}
	}

	noun := "vulnerabilities"
	if len(vulns) == 1 {
		noun = "vulnerability"
	}
	desc := fmt.Sprintf("`%s@%s` has %d known %s", pkg.Name, pkg.Version, len(vulns), noun)
	if len(cveIDs) > 0 {
		listed := cveIDs
		if len(listed) > 3 {
			listed = listed[:3]
		}
		desc += " including " + strings.Join(listed, ", ")
		if extra := len(cveIDs) - len(listed); extra > 0 {
			desc += fmt.Sprintf(" and %d more", extra)
		}
	}
	if hasScore {
		desc += fmt.Sprintf(" (CVSS %.1f)", score)
	}

	severity := flaretypes.RiskLevelMedium
	if hasScore {
		severity = severityFromCVSS(score)
	}
	return vulnFinding(severity, desc)
}

// ExtractPackages pulls versioned packages out of one segment. Packages
// without an exact version are dropped; they cannot be queried.
func ExtractPackages(seg flaretypes.Segment) []Package {
	verb, args := seg.Verb, seg.Args
	if verb == "sudo" {
		verb, args = innerCommand(args)
	}

	switch verb {
	case "npm":
		if hasSubcommand(args, "install", "i", "add") {
			return atVersionPackages(osv.EcosystemNPM, operandsAfterSubcommand(args))
		}
	case "pip", "pip3":
		if hasSubcommand(args, "install") {
			return pipPackages(operandsAfterSubcommand(args))
		}
	case "cargo":
		if hasSubcommand(args, "add", "install") {
			return atVersionPackages(osv.EcosystemCrates, operandsAfterSubcommand(args))
		}
	}
	return nil
}

func hasSubcommand(args []string, names ...string) bool {
	for _, arg := range args {
		if isFlag(arg) {
			continue
		}
		for _, name := range names {
			if arg == name {
				return true
			}
		}
		return false
	}
	return false
}

// operandsAfterSubcommand returns the non-flag tokens after the first
// non-flag token (the subcommand).
func operandsAfterSubcommand(args []string) []string {
	var operands []string
	seenSub := false
	for _, arg := range args {
		if isFlag(arg) {
			continue
		}
		if !seenSub {
			seenSub = true
			continue
		}
		operands = append(operands, arg)
	}
	return operands
}

// atVersionPackages parses "name@version" operands. The version is the
// text after the last "@"; a leading "@" (scope) does not count, so
// "@types/node" carries no version and "@scope/pkg@1.0.0" splits at the
// second "@".
func atVersionPackages(ecosystem string, operands []string) []Package {
	var packages []Package
	for _, operand := range operands {
		at := strings.LastIndex(operand, "@")
		if at <= 0 || at == len(operand)-1 {
			continue
		}
		packages = append(packages, Package{
			Ecosystem: ecosystem,
			Name:      operand[:at],
			Version:   operand[at+1:],
		})
	}
	return packages
}

func pipPackages(operands []string) []Package {
	var packages []Package
	for _, operand := range operands {
		m := pipRequirementRe.FindStringSubmatch(operand)
		if m == nil {
			continue
		}
		packages = append(packages, Package{
			Ecosystem: osv.EcosystemPyPI,
			Name:      m[1],
			Version:   m[3],
		})
	}
	return packages
}

func vulnFinding(severity flaretypes.RiskLevel, desc string) flaretypes.Finding {
	return flaretypes.Finding{
		Category:    flaretypes.CategoryPackageVuln,
		Severity:    severity,
		Description: desc,
	}
}
