package analyzer

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// NetworkAnalyzer detects exfiltration channels, unencrypted transport,
// credential leakage in headers, and DNS-channel abuse.
type NetworkAnalyzer struct {
	safeHosts map[string]struct{}
}

// networkVerbs are commands that move data over the network.
var networkVerbs = map[string]struct{}{
	"curl": {}, "wget": {}, "nc": {}, "netcat": {}, "ncat": {},
	"ssh": {}, "scp": {}, "rsync": {}, "ftp": {}, "sftp": {},
}

// dnsVerbs are DNS lookup tools, usable as a covert channel.
var dnsVerbs = map[string]struct{}{
	"nslookup": {}, "dig": {}, "host": {}, "drill": {},
}

// defaultSafeHosts are destinations that uploads and headers may target
// without raising findings.
var defaultSafeHosts = []string{
	"registry.npmjs.org",
	"pypi.org",
	"crates.io",
	"github.com",
	"raw.githubusercontent.com",
	"api.github.com",
	"localhost",
	"127.0.0.1",
	"::1",
}

// uploadFlags indicate the command sends local data to the remote side.
var uploadFlags = map[string]struct{}{
	"-d": {}, "--data": {}, "--data-binary": {},
	"-F": {}, "--form": {},
	"-T": {}, "--upload-file": {},
}

// sensitiveDataRegexps match command text that references credential or
// secret material.
var sensitiveDataRegexps = []*regexp.Regexp{
	regexp.MustCompile(`/etc/passwd`),
	regexp.MustCompile(`/etc/shadow`),
	regexp.MustCompile(`\.ssh/`),
	regexp.MustCompile(`\.aws/`),
	regexp.MustCompile(`\.env`),
	regexp.MustCompile(`id_rsa`),
	regexp.MustCompile(`\.pem$`),
	regexp.MustCompile(`\.key$`),
	regexp.MustCompile(`credentials`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)token`),
}

var credentialHeaderRe = regexp.MustCompile(`(?i)\b(Authorization|Bearer|Token|Cookie|X-Api-Key|X-Auth-Token)\b`)

// NewNetworkAnalyzer creates a NetworkAnalyzer with the default safe-host
// set plus any user-supplied hosts.
func NewNetworkAnalyzer(extraSafeHosts []string) *NetworkAnalyzer {
	hosts := make(map[string]struct{}, len(defaultSafeHosts)+len(extraSafeHosts))
	for _, h := range defaultSafeHosts {
		hosts[h] = struct{}{}
	}
	for _, h := range extraSafeHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return &NetworkAnalyzer{safeHosts: hosts}
}

// Name implements Analyzer.
func (a *NetworkAnalyzer) Name() string { return "network" }

// Analyze implements Analyzer.
func (a *NetworkAnalyzer) Analyze(_ context.Context, segments []flaretypes.Segment, _ string) flaretypes.AnalyzerResult {
	var findings []flaretypes.Finding

	for i, seg := range segments {
		if _, dns := dnsVerbs[seg.Verb]; dns {
			if strings.Contains(seg.Raw, "$(") || strings.Contains(seg.Raw, "`") {
				findings = append(findings, networkFinding(flaretypes.RiskLevelCritical,
					"possible DNS exfiltration: lookup of a dynamically constructed name"))
			} else {
				findings = append(findings, networkFinding(flaretypes.RiskLevelLow, "DNS lookup tool"))
			}
		}

		if _, network := networkVerbs[seg.Verb]; !network {
			continue
		}

		// Sensitive data piped directly into this network command.
		if seg.Operator == "" && i > 0 && segments[i-1].Operator == "|" &&
			matchesSensitiveData(segments[i-1].Raw) {
			findings = append(findings, networkFinding(flaretypes.RiskLevelCritical,
				fmt.Sprintf("piping sensitive data into %s", seg.Verb)))
			continue
		}

		uploading, dataArg := uploadArgument(seg.Args)
		scheme, host := extractURL(seg.Args)

		if seg.Verb == "curl" || seg.Verb == "wget" {
			if header := headerValue(seg.Args); header != "" && !a.isSafeHost(host) &&
				credentialHeaderRe.MatchString(header) {
				findings = append(findings, networkFinding(flaretypes.RiskLevelHigh,
					fmt.Sprintf("credential header sent to unverified host %s", displayHost(host))))
			}
		}

		switch {
		case uploading && !a.isSafeHost(host):
			if matchesSensitiveData(dataArg) {
				findings = append(findings, networkFinding(flaretypes.RiskLevelCritical,
					fmt.Sprintf("sensitive data uploaded to %s", displayHost(host))))
			} else {
				findings = append(findings, networkFinding(flaretypes.RiskLevelHigh,
					fmt.Sprintf("data upload to unverified host %s", displayHost(host))))
			}
		case !uploading && scheme == "http" && !a.isSafeHost(host):
			findings = append(findings, networkFinding(flaretypes.RiskLevelMedium,
				fmt.Sprintf("unencrypted HTTP transfer with %s", displayHost(host))))
		}

		if seg.Verb == "nc" || seg.Verb == "netcat" || seg.Verb == "ncat" {
			findings = append(findings, networkFinding(flaretypes.RiskLevelHigh,
				"raw socket tool can move arbitrary data"))
		}
	}

	findings = append(findings, a.chainExfiltration(segments, findings)...)

	return flaretypes.AnalyzerResult{Findings: tagFindings(a.Name(), findings)}
}

// chainExfiltration covers pipelines that stage sensitive data through
// intermediate transforms (e.g. base64) before a network command. Skipped
// when a critical finding already covers the flow.
func (a *NetworkAnalyzer) chainExfiltration(segments []flaretypes.Segment, existing []flaretypes.Finding) []flaretypes.Finding {
	if len(segments) == 0 {
		return nil
	}
	last := segments[len(segments)-1]
	if _, network := networkVerbs[last.Verb]; !network {
		return nil
	}
	for _, f := range existing {
		if f.Severity == flaretypes.RiskLevelCritical {
			return nil
		}
	}

	var piped, sensitive bool
	for _, seg := range segments[:len(segments)-1] {
		if seg.Operator == "|" {
			piped = true
		}
		if matchesSensitiveData(seg.Raw) {
			sensitive = true
		}
	}
	if piped && sensitive {
		return []flaretypes.Finding{networkFinding(flaretypes.RiskLevelCritical,
			fmt.Sprintf("pipeline reads sensitive data and ends in %s: possible exfiltration chain", last.Verb))}
	}
	return nil
}

// uploadArgument reports whether the segment uploads data and returns the
// argument value carrying the payload reference.
func uploadArgument(args []string) (bool, string) {
	for i, arg := range args {
		if _, ok := uploadFlags[arg]; ok {
			if i+1 < len(args) {
				return true, args[i+1]
			}
			return true, ""
		}
		for flag := range uploadFlags {
			if strings.HasPrefix(arg, flag+"=") {
				return true, strings.TrimPrefix(arg, flag+"=")
			}
		}
	}
	return false, ""
}

// extractURL finds the first URL-shaped argument and returns its scheme
// and hostname. A parse failure yields an empty host.
func extractURL(args []string) (scheme, host string) {
	for _, arg := range args {
		var s string
		switch {
		case strings.HasPrefix(arg, "http://"):
			s = "http"
		case strings.HasPrefix(arg, "https://"):
			s = "https"
		case strings.HasPrefix(arg, "ftp://"):
			s = "ftp"
		default:
			continue
		}
		u, err := url.Parse(arg)
		if err != nil {
			return s, ""
		}
		return s, strings.ToLower(u.Hostname())
	}
	return "", ""
}

// headerValue returns the value of the first -H/--header option.
func headerValue(args []string) string {
	for i, arg := range args {
		if arg == "-H" || arg == "--header" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "--header=") {
			return strings.TrimPrefix(arg, "--header=")
		}
	}
	return ""
}

// isSafeHost reports whether the host is allowlisted. An unknown host
// (failed URL parse or no URL at all) is never safe.
func (a *NetworkAnalyzer) isSafeHost(host string) bool {
	if host == "" {
		return false
	}
	_, ok := a.safeHosts[host]
	return ok
}

func matchesSensitiveData(s string) bool {
	for _, re := range sensitiveDataRegexps {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func displayHost(host string) string {
	if host == "" {
		return "unknown host"
	}
	return host
}

func networkFinding(severity flaretypes.RiskLevel, desc string) flaretypes.Finding {
	return flaretypes.Finding{
		Category:    flaretypes.CategoryNetwork,
		Severity:    severity,
		Description: desc,
	}
}
