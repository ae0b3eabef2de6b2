package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/noam-bash/flare-saferun/internal/common"
	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// DestructiveAnalyzer detects irreversible operations: forced recursive
// removal, disk overwrites, filesystem creation, destructive VCS commands,
// and destructive SQL statements embedded in command text.
type DestructiveAnalyzer struct {
	home string
}

// NewDestructiveAnalyzer creates a DestructiveAnalyzer. The home
// directory is used to recognize home-targeting rm invocations.
func NewDestructiveAnalyzer(home string) *DestructiveAnalyzer {
	return &DestructiveAnalyzer{home: home}
}

// Name implements Analyzer.
func (a *DestructiveAnalyzer) Name() string { return "destructive" }

// SQL statements that destroy data. Matched case-insensitively against
// the raw segment text.
var (
	sqlDropRe     = regexp.MustCompile(`(?i)\bDROP\s+(DATABASE|TABLE|SCHEMA|INDEX)\b`)
	sqlTruncateRe = regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`)
	sqlDeleteOrRe = regexp.MustCompile(`(?i)\bDELETE\s+FROM\b.*\bWHERE\b.*=.*\bOR\b`)
)

// Analyze implements Analyzer.
func (a *DestructiveAnalyzer) Analyze(_ context.Context, segments []flaretypes.Segment, _ string) flaretypes.AnalyzerResult {
	var findings []flaretypes.Finding

	for _, seg := range segments {
		switch seg.Verb {
		case "rm":
			findings = append(findings, a.checkRemove(seg)...)
		case "truncate":
			findings = append(findings, destructiveFinding(flaretypes.RiskLevelMedium,
				"truncate can destroy file contents"))
		case "shred":
			findings = append(findings, destructiveFinding(flaretypes.RiskLevelHigh,
				"shred irrecoverably overwrites file contents"))
		case "dd":
			findings = append(findings, checkDiskDump(seg))
		case "git":
			findings = append(findings, checkGit(seg)...)
		}
		if seg.Verb == "mkfs" || strings.HasPrefix(seg.Verb, "mkfs.") {
			findings = append(findings, destructiveFinding(flaretypes.RiskLevelCritical,
				"mkfs creates a new filesystem, destroying all existing data on the device"))
		}

		findings = append(findings, checkSQL(seg)...)
	}

	return flaretypes.AnalyzerResult{Findings: tagFindings(a.Name(), findings)}
}

// checkRemove inspects rm invocations. Force and recursive intent are
// read from option tokens only, so filenames containing the letter "f"
// never count as a flag.
func (a *DestructiveAnalyzer) checkRemove(seg flaretypes.Segment) []flaretypes.Finding {
	var force, recursive bool
	var targets []string

	for _, arg := range seg.Args {
		if !isFlag(arg) {
			targets = append(targets, arg)
			continue
		}
		switch {
		case arg == "--force":
			force = true
		case arg == "--recursive":
			recursive = true
		case strings.HasPrefix(arg, "--"):
			// other long options carry no removal intent
		default:
			flags := arg[1:]
			if strings.ContainsRune(flags, 'f') {
				force = true
			}
			if strings.ContainsAny(flags, "rR") {
				recursive = true
			}
		}
	}

	if !force && !recursive {
		return nil
	}
	if force != recursive {
		var mode string
		if force {
			mode = "forced"
		} else {
			mode = "recursive"
		}
		return []flaretypes.Finding{destructiveFinding(flaretypes.RiskLevelLow,
			fmt.Sprintf("%s file removal", mode))}
	}

	severity := flaretypes.RiskLevelMedium
	desc := "forced recursive removal (rm -rf)"
	for _, target := range targets {
		switch {
		case target == "/" || target == "/*":
			return []flaretypes.Finding{destructiveFinding(flaretypes.RiskLevelCritical,
				`"rm -rf /" destroys the entire filesystem`)}
		case a.isHomeTarget(target):
			return []flaretypes.Finding{destructiveFinding(flaretypes.RiskLevelCritical,
				`"rm -rf ~" destroys the user's home directory`)}
		case target == "*":
			severity = flaretypes.RiskLevelHigh
			desc = "forced recursive removal of everything in the working directory"
		}
	}

	return []flaretypes.Finding{destructiveFinding(severity, desc)}
}

// isHomeTarget reports whether an rm target names the home directory:
// literal ~, a ~/ prefix, $HOME, or the resolved home path. The parser
// expands tildes before analyzers run, so the resolved forms match too.
func (a *DestructiveAnalyzer) isHomeTarget(target string) bool {
	if target == "~" || strings.HasPrefix(target, "~/") || target == "$HOME" {
		return true
	}
	return a.home != "" && (target == a.home || strings.HasPrefix(target, a.home+"/"))
}

// checkDiskDump classifies dd: writing to a device is critical, anything
// else is still high because dd overwrites without confirmation.
func checkDiskDump(seg flaretypes.Segment) flaretypes.Finding {
	for _, arg := range seg.Args {
		if strings.HasPrefix(arg, "of=/dev/") {
			return destructiveFinding(flaretypes.RiskLevelCritical,
				fmt.Sprintf("dd writes directly to device %s", strings.TrimPrefix(arg, "of=")))
		}
	}
	return destructiveFinding(flaretypes.RiskLevelHigh, "dd performs low-level data copying and can overwrite data")
}

// gitDangerousTuples are the git argument combinations that rewrite or
// destroy history.
var gitDangerousTuples = [][]string{
	{"push", "-f"},
	{"push", "--force"},
	{"push", "--force-with-lease"},
	{"reset", "--hard"},
	{"clean", "-f"},
}

func checkGit(seg flaretypes.Segment) []flaretypes.Finding {
	for _, tuple := range gitDangerousTuples {
		if !containsAll(seg.Args, tuple) {
			continue
		}

		if tuple[0] == "push" && targetsProtectedBranch(seg.Args) {
			return []flaretypes.Finding{destructiveFinding(flaretypes.RiskLevelCritical,
				fmt.Sprintf("git %s to a protected branch rewrites shared history", strings.Join(tuple, " ")))}
		}
		return []flaretypes.Finding{destructiveFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("git %s discards or rewrites history", strings.Join(tuple, " ")))}
	}
	return nil
}

// targetsProtectedBranch reports whether any argument names main or
// master, directly or as a ref suffix.
func targetsProtectedBranch(args []string) bool {
	for _, arg := range args {
		if arg == "main" || arg == "master" ||
			strings.HasSuffix(arg, "/main") || strings.HasSuffix(arg, "/master") {
			return true
		}
	}
	return false
}

func checkSQL(seg flaretypes.Segment) []flaretypes.Finding {
	var findings []flaretypes.Finding
	for _, re := range []*regexp.Regexp{sqlDropRe, sqlTruncateRe, sqlDeleteOrRe} {
		if match := re.FindString(seg.Raw); match != "" {
			findings = append(findings, destructiveFinding(flaretypes.RiskLevelCritical,
				fmt.Sprintf("destructive SQL statement: %s", common.Truncate(match, 80))))
		}
	}
	return findings
}

func containsAll(args []string, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, arg := range args {
			if arg == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func destructiveFinding(severity flaretypes.RiskLevel, desc string) flaretypes.Finding {
	return flaretypes.Finding{
		Category:    flaretypes.CategoryDestructive,
		Severity:    severity,
		Description: desc,
	}
}
