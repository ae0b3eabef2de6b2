// Package analyzer implements Flare's content analyzers. Each analyzer
// inspects the parsed segment list for one class of risk signal and emits
// findings; analyzers are total functions and never fail. Only the
// package-vulnerability analyzer performs I/O (through the OSV oracle).
package analyzer

import (
	"context"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// Analyzer is the interface every analyzer implements. Configuration
// (safe hosts, sensitive patterns, oracle timeout) is captured at
// construction; Analyze itself is stateless.
type Analyzer interface {
	// Name returns the analyzer's identifier (e.g. "destructive").
	Name() string

	// Analyze inspects the segments and returns findings. The context is
	// only observed by analyzers that perform network lookups.
	Analyze(ctx context.Context, segments []flaretypes.Segment, cwd string) flaretypes.AnalyzerResult
}

// tagFindings stamps the analyzer name onto each finding that does not
// carry one yet.
func tagFindings(name string, findings []flaretypes.Finding) []flaretypes.Finding {
	for i := range findings {
		if findings[i].Analyzer == "" {
			findings[i].Analyzer = name
		}
	}
	return findings
}

// isFlag reports whether an argument token is an option rather than an
// operand.
func isFlag(arg string) bool {
	return len(arg) > 0 && arg[0] == '-'
}
