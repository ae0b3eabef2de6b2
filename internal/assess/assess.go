// Package assess assembles Flare's analysis pipeline: parse the command,
// fan the segments out to all analyzers concurrently, and score the
// merged findings. The service is advisory only; it never executes or
// blocks commands.
package assess

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noam-bash/flare-saferun/internal/analyzer"
	"github.com/noam-bash/flare-saferun/internal/flaretypes"
	"github.com/noam-bash/flare-saferun/internal/osv"
	"github.com/noam-bash/flare-saferun/internal/scorer"
	"github.com/noam-bash/flare-saferun/internal/shellparse"
)

// Config carries the knobs recognized by the core pipeline.
type Config struct {
	// Policy maps every risk level to an advisory action. Required.
	Policy flaretypes.ActionPolicy

	// SensitivePatterns are extra globs for the sensitive-path analyzer.
	SensitivePatterns []string

	// SafeHosts are extra hostnames exempt from network findings.
	SafeHosts []string

	// OSVTimeout bounds each vulnerability lookup. Zero means the
	// default (1500ms).
	OSVTimeout time.Duration

	// PackageAllowlist lists "name", "name@version", or
	// "name@<constraint>" entries that skip oracle lookups.
	PackageAllowlist []string

	// CommandAllowlist lists command prefixes that bypass analysis.
	CommandAllowlist []string
}

// Service is the assembled pipeline. Safe for concurrent use; the only
// shared mutable state is the oracle's cache.
type Service struct {
	parser           *shellparse.Parser
	analyzers        []analyzer.Analyzer
	policy           flaretypes.ActionPolicy
	commandAllowlist []string
}

// Option customizes service construction.
type Option func(*options)

type options struct {
	oracle       analyzer.Oracle
	home         string
	cacheMetrics osv.CacheMetrics
}

// WithOracle substitutes the vulnerability oracle (used by tests).
func WithOracle(o analyzer.Oracle) Option {
	return func(opts *options) { opts.oracle = o }
}

// WithHome overrides the home directory used for tilde expansion.
func WithHome(home string) Option {
	return func(opts *options) { opts.home = home }
}

// WithCacheMetrics wires oracle cache instrumentation.
func WithCacheMetrics(m osv.CacheMetrics) Option {
	return func(opts *options) { opts.cacheMetrics = m }
}

// NewService validates the configuration and assembles the pipeline.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid action policy: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var parser *shellparse.Parser
	if o.home != "" {
		parser = shellparse.NewParserWithHome(o.home)
	} else {
		parser = shellparse.NewParser()
	}

	oracle := o.oracle
	if oracle == nil {
		clientOpts := []osv.Option{osv.WithTimeout(cfg.OSVTimeout)}
		if o.cacheMetrics != nil {
			clientOpts = append(clientOpts, osv.WithMetrics(o.cacheMetrics))
		}
		oracle = osv.NewClient(clientOpts...)
	}

	home := parser.Home()
	analyzers := []analyzer.Analyzer{
		analyzer.NewDestructiveAnalyzer(home),
		analyzer.NewPermissionsAnalyzer(),
		analyzer.NewSensitivePathAnalyzer(home, cfg.SensitivePatterns),
		analyzer.NewNetworkAnalyzer(cfg.SafeHosts),
		analyzer.NewCodeInjectionAnalyzer(),
		analyzer.NewPackageVulnAnalyzer(oracle, analyzer.NewPackageAllowlist(cfg.PackageAllowlist)),
	}

	return &Service{
		parser:           parser,
		analyzers:        analyzers,
		policy:           cfg.Policy,
		commandAllowlist: cfg.CommandAllowlist,
	}, nil
}

// Assess analyzes one command. The returned error is limited to parse
// failures (the input length cap); everything else degrades in-band.
func (s *Service) Assess(ctx context.Context, command, cwd string) (flaretypes.RiskAssessment, error) {
	for _, prefix := range s.commandAllowlist {
		if strings.HasPrefix(command, prefix) {
			return flaretypes.RiskAssessment{
				RiskLevel:      flaretypes.RiskLevelNone,
				Action:         flaretypes.ActionRun,
				Summary:        "Command is in the allowlist.",
				Details:        []flaretypes.Finding{},
				Recommendation: "Command is explicitly allowlisted; no analysis performed.",
			}, nil
		}
	}

	segments, err := s.parser.Parse(command)
	if err != nil {
		return flaretypes.RiskAssessment{}, err
	}

	// Fan out to all analyzers; results keep analyzer order regardless
	// of completion order.
	results := make([]flaretypes.AnalyzerResult, len(s.analyzers))
	var wg sync.WaitGroup
	for i, a := range s.analyzers {
		wg.Add(1)
		go func(i int, a analyzer.Analyzer) {
			defer wg.Done()
			results[i] = a.Analyze(ctx, segments, cwd)
		}(i, a)
	}
	wg.Wait()

	return scorer.Score(results, s.policy), nil
}

// SyntheticError is the assessment returned to callers when analysis
// itself failed; the caller is advised to proceed with caution.
func SyntheticError(err error) flaretypes.RiskAssessment {
	return flaretypes.RiskAssessment{
		RiskLevel:      flaretypes.RiskLevelNone,
		Action:         flaretypes.ActionRun,
		Summary:        fmt.Sprintf("Analysis error: %v", err),
		Details:        []flaretypes.Finding{},
		Recommendation: "Could not analyze this command. Proceed with caution.",
	}
}
