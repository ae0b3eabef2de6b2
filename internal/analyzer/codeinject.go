package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// CodeInjectionAnalyzer detects dynamic code execution: eval and friends,
// interpreter inline flags, piping downloads into an interpreter, and
// container escape options.
type CodeInjectionAnalyzer struct{}

// NewCodeInjectionAnalyzer creates a CodeInjectionAnalyzer.
func NewCodeInjectionAnalyzer() *CodeInjectionAnalyzer {
	return &CodeInjectionAnalyzer{}
}

// Name implements Analyzer.
func (a *CodeInjectionAnalyzer) Name() string { return "code-injection" }

// evalVerbs execute their arguments as shell code. The bare "." form
// counts only with at least one argument.
var evalVerbs = map[string]struct{}{
	"eval": {}, "exec": {}, "source": {},
}

// interpreterInlineFlags maps interpreters to the flags that accept code
// on the command line.
var interpreterInlineFlags = map[string][]string{
	"bash":    {"-c"},
	"sh":      {"-c"},
	"zsh":     {"-c"},
	"dash":    {"-c"},
	"python":  {"-c"},
	"python3": {"-c"},
	"node":    {"-e", "--eval"},
	"ruby":    {"-e"},
	"perl":    {"-e"},
}

// dangerousInlineRe matches destructive or process-spawning operations
// inside inline interpreter code.
var dangerousInlineRe = regexp.MustCompile(`\brm\b|\bdel\b|\brmdir\b|os\.system|subprocess|child_process|execSync|spawnSync`)

// Analyze implements Analyzer.
func (a *CodeInjectionAnalyzer) Analyze(_ context.Context, segments []flaretypes.Segment, _ string) flaretypes.AnalyzerResult {
	var findings []flaretypes.Finding

	for i, seg := range segments {
		findings = append(findings, checkEval(seg)...)
		findings = append(findings, checkInlineInterpreter(seg)...)
		findings = append(findings, checkPipeToInterpreter(segments, i)...)
		findings = append(findings, checkContainerEscape(seg)...)
	}

	return flaretypes.AnalyzerResult{Findings: tagFindings(a.Name(), findings)}
}

func checkEval(seg flaretypes.Segment) []flaretypes.Finding {
	_, isEval := evalVerbs[seg.Verb]
	if !isEval && !(seg.Verb == "." && len(seg.Args) > 0) {
		return nil
	}

	joined := strings.Join(seg.Args, " ")
	switch {
	case strings.Contains(joined, "curl") || strings.Contains(joined, "wget"):
		return []flaretypes.Finding{injectionFinding(flaretypes.RiskLevelCritical,
			fmt.Sprintf("%s executes downloaded content", seg.Verb))}
	case strings.Contains(joined, "$(") || strings.Contains(joined, "`"):
		return []flaretypes.Finding{injectionFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("%s executes dynamically constructed code", seg.Verb))}
	default:
		return []flaretypes.Finding{injectionFinding(flaretypes.RiskLevelMedium,
			fmt.Sprintf("%s executes its arguments as code", seg.Verb))}
	}
}

// checkInlineInterpreter inspects "<interp> -c CODE" style invocations,
// including the sudo-prefixed form.
func checkInlineInterpreter(seg flaretypes.Segment) []flaretypes.Finding {
	verb, args := seg.Verb, seg.Args
	elevated := false
	if verb == "sudo" {
		verb, args = innerCommand(args)
		elevated = true
	}

	flags, isInterp := interpreterInlineFlags[verb]
	if !isInterp || len(args) < 1 {
		return nil
	}

	matched := false
	for _, flag := range flags {
		if args[0] == flag {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	code := strings.Join(args[1:], " ")

	var findings []flaretypes.Finding
	if elevated {
		findings = append(findings, injectionFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("sudo %s runs inline code with elevated privileges", verb)))
	}
	if dangerousInlineRe.MatchString(code) {
		findings = append(findings, injectionFinding(flaretypes.RiskLevelHigh,
			fmt.Sprintf("inline %s code performs destructive or process-spawning operations", verb)))
	} else {
		findings = append(findings, injectionFinding(flaretypes.RiskLevelLow,
			fmt.Sprintf("inline %s code execution", verb)))
	}
	return findings
}

// checkPipeToInterpreter flags "curl ... | bash" style pipelines.
func checkPipeToInterpreter(segments []flaretypes.Segment, i int) []flaretypes.Finding {
	seg := segments[i]
	if _, network := networkVerbs[seg.Verb]; !network || seg.Operator != "|" {
		return nil
	}
	if i+1 >= len(segments) {
		return nil
	}

	next := segments[i+1]
	nextVerb, nextArgs := next.Verb, next.Args
	if nextVerb == "sudo" {
		nextVerb, _ = innerCommand(nextArgs)
	}
	if _, isInterp := interpreterInlineFlags[nextVerb]; isInterp {
		return []flaretypes.Finding{injectionFinding(flaretypes.RiskLevelCritical,
			fmt.Sprintf("%s output piped directly into %s", seg.Verb, nextVerb))}
	}
	return nil
}

// checkContainerEscape flags docker options that break container
// isolation.
func checkContainerEscape(seg flaretypes.Segment) []flaretypes.Finding {
	if seg.Verb != "docker" || len(seg.Args) == 0 {
		return nil
	}
	switch seg.Args[0] {
	case "run", "exec", "create":
	default:
		return nil
	}

	var findings []flaretypes.Finding
	for i, arg := range seg.Args {
		switch {
		case arg == "--privileged":
			findings = append(findings, injectionFinding(flaretypes.RiskLevelHigh,
				"privileged container disables isolation"))
		case arg == "-v" || arg == "--volume":
			if i+1 < len(seg.Args) && strings.HasPrefix(seg.Args[i+1], "/:/") {
				findings = append(findings, injectionFinding(flaretypes.RiskLevelCritical,
					"container mounts the host root filesystem"))
			}
		case strings.HasPrefix(arg, "-v=") || strings.HasPrefix(arg, "--volume="):
			if strings.HasPrefix(arg[strings.Index(arg, "=")+1:], "/:/") {
				findings = append(findings, injectionFinding(flaretypes.RiskLevelCritical,
					"container mounts the host root filesystem"))
			}
		case arg == "--pid=host" || arg == "--net=host":
			findings = append(findings, injectionFinding(flaretypes.RiskLevelHigh,
				fmt.Sprintf("container shares the host namespace (%s)", arg)))
		}
	}
	return findings
}

func injectionFinding(severity flaretypes.RiskLevel, desc string) flaretypes.Finding {
	return flaretypes.Finding{
		Category:    flaretypes.CategoryCodeInjection,
		Severity:    severity,
		Description: desc,
	}
}
