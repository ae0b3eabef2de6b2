package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// PermissionsAnalyzer detects privilege escalation and dangerous mode or
// ownership changes.
type PermissionsAnalyzer struct{}

// NewPermissionsAnalyzer creates a PermissionsAnalyzer.
func NewPermissionsAnalyzer() *PermissionsAnalyzer {
	return &PermissionsAnalyzer{}
}

// Name implements Analyzer.
func (a *PermissionsAnalyzer) Name() string { return "permissions" }

// sudoHighRiskInner are commands that are high risk when run under sudo.
var sudoHighRiskInner = map[string]struct{}{
	"rm":       {},
	"chmod":    {},
	"chown":    {},
	"mkfs":     {},
	"dd":       {},
	"kill":     {},
	"shutdown": {},
	"reboot":   {},
}

var (
	octalModeRe    = regexp.MustCompile(`^[0-7]{3,4}$`)
	symbolicModeRe = regexp.MustCompile(`^[ugoa][+-][rwxst]+$`)
)

// dangerousModes grant world-write or fully open access.
var dangerousModes = map[string]struct{}{
	"777":   {},
	"666":   {},
	"o+w":   {},
	"a+w":   {},
	"o+rwx": {},
	"a+rwx": {},
}

// sensitiveSystemPrefixes are path prefixes where permission changes
// affect system integrity.
var sensitiveSystemPrefixes = []string{
	"/etc/",
	"/usr/bin/",
	"/usr/local/bin/",
	"/usr/sbin/",
	"/var/log/",
	"/boot/",
	"/sys/",
	"/proc/",
}

// Analyze implements Analyzer.
func (a *PermissionsAnalyzer) Analyze(_ context.Context, segments []flaretypes.Segment, _ string) flaretypes.AnalyzerResult {
	var findings []flaretypes.Finding

	for _, seg := range segments {
		verb, args := seg.Verb, seg.Args

		if verb == "sudo" {
			inner, rest := innerCommand(args)
			findings = append(findings, checkSudo(inner, rest))
			// The chmod/chown rules apply equally to the stripped command.
			verb, args = inner, rest
		}

		switch verb {
		case "chmod":
			findings = append(findings, checkChmod(args)...)
		case "chown":
			findings = append(findings, checkChown(args)...)
		}
	}

	return flaretypes.AnalyzerResult{Findings: tagFindings(a.Name(), findings)}
}

// innerCommand returns the command sudo would run and its arguments,
// skipping sudo's own option tokens.
func innerCommand(args []string) (string, []string) {
	for i, arg := range args {
		if !isFlag(arg) {
			return arg, args[i+1:]
		}
	}
	return "", nil
}

// packageInstallers are package managers whose install subcommands modify
// the system when run under sudo.
var packageInstallers = map[string]struct{}{
	"npm": {}, "pip": {}, "pip3": {}, "cargo": {},
	"apt": {}, "apt-get": {}, "yum": {}, "dnf": {}, "brew": {},
}

var installSubcommands = map[string]struct{}{
	"install": {}, "i": {}, "add": {},
}

func checkSudo(inner string, innerArgs []string) flaretypes.Finding {
	base := inner
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if _, dangerous := sudoHighRiskInner[base]; dangerous {
		return permissionsFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("sudo grants %s elevated privileges", base))
	}
	if _, installer := packageInstallers[base]; installer && hasInstallSubcommand(innerArgs) {
		return permissionsFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("sudo %s installs software system-wide with elevated privileges", base))
	}
	return permissionsFinding(flaretypes.RiskLevelLow, "command runs with elevated privileges via sudo")
}

func hasInstallSubcommand(args []string) bool {
	for _, arg := range args {
		if isFlag(arg) {
			continue
		}
		_, ok := installSubcommands[arg]
		return ok
	}
	return false
}

func checkChmod(args []string) []flaretypes.Finding {
	var mode string
	var targets []string
	for _, arg := range args {
		if isFlag(arg) {
			continue
		}
		if mode == "" && (octalModeRe.MatchString(arg) || symbolicModeRe.MatchString(arg)) {
			mode = arg
			continue
		}
		targets = append(targets, arg)
	}

	// 4-digit octal modes map onto the 3-digit dangerous set by their
	// permission bits (e.g. 0777).
	_, dangerous := dangerousModes[mode]
	if !dangerous && len(mode) == 4 {
		_, dangerous = dangerousModes[mode[1:]]
	}
	sensitive := firstSensitiveTarget(targets)

	switch {
	case dangerous && sensitive != "":
		return []flaretypes.Finding{permissionsFinding(flaretypes.RiskLevelCritical,
			fmt.Sprintf("chmod %s on sensitive system path %s", mode, sensitive))}
	case dangerous:
		return []flaretypes.Finding{permissionsFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("chmod %s grants world-writable access", mode))}
	case sensitive != "":
		return []flaretypes.Finding{permissionsFinding(flaretypes.RiskLevelMedium,
			fmt.Sprintf("permission change on sensitive system path %s", sensitive))}
	default:
		return nil
	}
}

func checkChown(args []string) []flaretypes.Finding {
	var operands []string
	for _, arg := range args {
		if !isFlag(arg) {
			operands = append(operands, arg)
		}
	}
	if len(operands) == 0 {
		return nil
	}

	// The first operand is the user (or user:group) specification.
	if target := firstSensitiveTarget(operands[1:]); target != "" {
		return []flaretypes.Finding{permissionsFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("ownership change on sensitive system path %s", target))}
	}
	return []flaretypes.Finding{permissionsFinding(flaretypes.RiskLevelMedium, "file ownership change")}
}

func firstSensitiveTarget(targets []string) string {
	for _, target := range targets {
		for _, prefix := range sensitiveSystemPrefixes {
			if strings.HasPrefix(target, prefix) {
				return target
			}
		}
	}
	return ""
}

func permissionsFinding(severity flaretypes.RiskLevel, desc string) flaretypes.Finding {
	return flaretypes.Finding{
		Category:    flaretypes.CategoryPermissions,
		Severity:    severity,
		Description: desc,
	}
}
