// Package scorer aggregates analyzer findings into a single risk
// assessment: the amplified risk level, the advisory action from the
// caller's policy, a summary, and a recommendation.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noam-bash/flare-saferun/internal/common"
	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// dangerousCategoryPairs amplify a high+medium mix to critical: each pair
// combines capabilities that together enable credential theft or
// exfiltration.
var dangerousCategoryPairs = [][2]flaretypes.Category{
	{flaretypes.CategoryPermissions, flaretypes.CategoryNetwork},
	{flaretypes.CategoryPermissions, flaretypes.CategorySensitivePath},
	{flaretypes.CategoryNetwork, flaretypes.CategorySensitivePath},
}

// Score aggregates analyzer results into a RiskAssessment using the
// given action policy.
func Score(results []flaretypes.AnalyzerResult, policy flaretypes.ActionPolicy) flaretypes.RiskAssessment {
	var findings []flaretypes.Finding
	partial := false
	for _, res := range results {
		findings = append(findings, res.Findings...)
		partial = partial || res.Partial
	}

	level := riskLevel(findings)

	return flaretypes.RiskAssessment{
		RiskLevel:      level,
		Action:         policy[level],
		Summary:        summary(level, findings),
		Details:        common.CloneOrEmpty(findings),
		Recommendation: recommendation(level, findings),
		Partial:        partial,
	}
}

// riskLevel applies the amplification rules: one critical, two highs, a
// dangerous high+medium category combination, or three mediums promote
// the aggregate above the maximum individual severity.
func riskLevel(findings []flaretypes.Finding) flaretypes.RiskLevel {
	if len(findings) == 0 {
		return flaretypes.RiskLevelNone
	}

	maxIndividual := flaretypes.RiskLevelNone
	var criticals, highs, mediums int
	categories := make(map[flaretypes.Category]struct{})
	for _, f := range findings {
		if f.Severity > maxIndividual {
			maxIndividual = f.Severity
		}
		switch f.Severity {
		case flaretypes.RiskLevelCritical:
			criticals++
		case flaretypes.RiskLevelHigh:
			highs++
		case flaretypes.RiskLevelMedium:
			mediums++
		}
		categories[f.Category] = struct{}{}
	}

	switch {
	case criticals >= 1:
		return flaretypes.RiskLevelCritical
	case highs >= 2:
		return flaretypes.RiskLevelCritical
	case highs >= 1 && mediums >= 1 && hasDangerousPair(categories):
		return flaretypes.RiskLevelCritical
	case mediums >= 3:
		return flaretypes.RiskLevelHigh
	default:
		return maxIndividual
	}
}

func hasDangerousPair(categories map[flaretypes.Category]struct{}) bool {
	for _, pair := range dangerousCategoryPairs {
		_, a := categories[pair[0]]
		_, b := categories[pair[1]]
		if a && b {
			return true
		}
	}
	return false
}

// levelPrefixes label the summary line per risk level.
var levelPrefixes = map[flaretypes.RiskLevel]string{
	flaretypes.RiskLevelNone:     "No issues",
	flaretypes.RiskLevelLow:      "Low risk",
	flaretypes.RiskLevelMedium:   "Medium risk",
	flaretypes.RiskLevelHigh:     "High risk",
	flaretypes.RiskLevelCritical: "Critical risk",
}

func summary(level flaretypes.RiskLevel, findings []flaretypes.Finding) string {
	prefix := levelPrefixes[level]
	switch len(findings) {
	case 0:
		return prefix
	case 1:
		return fmt.Sprintf("%s: %s", prefix, findings[0].Description)
	}

	top := topBySeverity(findings, 3)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s — %d issues found:", prefix, len(findings))
	for _, f := range top {
		sb.WriteString("\n- " + f.Description)
	}
	return sb.String()
}

// topBySeverity returns the n highest-severity findings, preserving
// aggregation order among equals.
func topBySeverity(findings []flaretypes.Finding, n int) []flaretypes.Finding {
	sorted := make([]flaretypes.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity > sorted[j].Severity
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func recommendation(level flaretypes.RiskLevel, findings []flaretypes.Finding) string {
	categories := make(map[flaretypes.Category]struct{})
	for _, f := range findings {
		categories[f.Category] = struct{}{}
	}
	has := func(c flaretypes.Category) bool {
		_, ok := categories[c]
		return ok
	}

	switch level {
	case flaretypes.RiskLevelCritical:
		switch {
		case has(flaretypes.CategoryDestructive):
			return "This command performs irreversible destructive operations. Verify the target paths carefully before running it."
		case has(flaretypes.CategoryNetwork) && has(flaretypes.CategorySensitivePath):
			return "This command may exfiltrate sensitive data over the network. Do not run it unless you fully trust the destination."
		case has(flaretypes.CategoryPackageVuln):
			return "Consider upgrading to a patched version before installing. " + firstVulnDescription(findings)
		default:
			return "This command raises critical security concerns. Review each flagged issue before running it."
		}
	case flaretypes.RiskLevelHigh:
		switch {
		case has(flaretypes.CategoryPackageVuln):
			return "One or more packages have known vulnerabilities. Check the advisories and prefer patched versions."
		case has(flaretypes.CategoryPermissions):
			return "This command changes privileges or permissions. Confirm the targets and run with the least privilege needed."
		case has(flaretypes.CategoryNetwork):
			return "This command communicates with external hosts. Verify the destination before running it."
		default:
			return "Review the flagged issues before running this command."
		}
	case flaretypes.RiskLevelMedium:
		return "Minor concerns detected. Review the details before running this command."
	default:
		return "Low-risk issues noted. Proceed with normal caution."
	}
}

func firstVulnDescription(findings []flaretypes.Finding) string {
	for _, f := range findings {
		if f.Category == flaretypes.CategoryPackageVuln {
			return f.Description
		}
	}
	return ""
}
