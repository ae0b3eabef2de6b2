// Package scanfile extracts candidate shell commands from static files —
// shell scripts, container build files, and CI configuration — so the
// same analysis pipeline can assess commands before they ever run. The
// scanner is best-effort: malformed files yield whatever commands can be
// recovered and never fail a whole scan.
package scanfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
)

// Kind identifies how a file's commands are extracted.
type Kind int

// Supported file kinds.
const (
	KindUnknown Kind = iota
	KindShell
	KindDockerfile
	KindCIYAML
)

// Command is one extracted command with its origin.
type Command struct {
	Text   string
	Source flaretypes.Source
}

// maxScanSize caps how much of a file the scanner reads.
const maxScanSize = 1 << 20

// Detect classifies a file by name and content.
func Detect(path string, content []byte) Kind {
	base := filepath.Base(path)
	switch {
	case base == "Dockerfile" || strings.HasPrefix(base, "Dockerfile."):
		return KindDockerfile
	case strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml"):
		return KindCIYAML
	case strings.HasSuffix(base, ".sh") || strings.HasSuffix(base, ".bash"):
		return KindShell
	case bytes.HasPrefix(content, []byte("#!")):
		return KindShell
	default:
		return KindUnknown
	}
}

// ScanFile reads and extracts commands from one file.
func ScanFile(path string) ([]Command, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(content) > maxScanSize {
		content = content[:maxScanSize]
	}
	return Extract(path, content), nil
}

// Extract pulls commands from file content according to its kind.
// Unknown kinds yield nothing.
func Extract(path string, content []byte) []Command {
	switch Detect(path, content) {
	case KindShell:
		return extractShell(path, content)
	case KindDockerfile:
		return extractDockerfile(path, content)
	case KindCIYAML:
		return extractCIYAML(path, content)
	default:
		return nil
	}
}

// extractShell returns each executable line of a shell script, with
// backslash continuations joined. Comments, blank lines, the shebang,
// and plain variable assignments are skipped.
func extractShell(path string, content []byte) []Command {
	var commands []Command

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		startLine := i + 1
		line := strings.TrimSpace(lines[i])
		for strings.HasSuffix(line, "\\") && i+1 < len(lines) {
			i++
			line = strings.TrimRight(strings.TrimSuffix(line, "\\"), " \t") + " " + strings.TrimSpace(lines[i])
		}

		if line == "" || strings.HasPrefix(line, "#") || isAssignment(line) {
			continue
		}
		commands = append(commands, Command{
			Text:   line,
			Source: flaretypes.Source{File: path, Line: startLine, Context: "shell script"},
		})
	}
	return commands
}

// isAssignment reports whether a line is a bare VAR=value assignment.
func isAssignment(line string) bool {
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return false
	}
	name := line[:eq]
	for _, c := range name {
		if c != '_' && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return !strings.ContainsAny(line[eq+1:], " \t|&;")
}

// extractDockerfile returns the argument of each RUN instruction,
// including continuation lines and the JSON-array exec form.
func extractDockerfile(path string, content []byte) []Command {
	var commands []Command

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		startLine := i + 1
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(strings.ToUpper(line), "RUN ") {
			continue
		}
		body := strings.TrimSpace(line[4:])
		for strings.HasSuffix(body, "\\") && i+1 < len(lines) {
			i++
			body = strings.TrimSuffix(body, "\\") + " " + strings.TrimSpace(lines[i])
		}

		if strings.HasPrefix(body, "[") {
			var parts []string
			if err := json.Unmarshal([]byte(body), &parts); err == nil {
				body = strings.Join(parts, " ")
			}
		}
		if body == "" {
			continue
		}
		commands = append(commands, Command{
			Text:   body,
			Source: flaretypes.Source{File: path, Line: startLine, Context: "Dockerfile RUN"},
		})
	}
	return commands
}

// ciCommandKeys are the YAML mapping keys whose values are commands in
// GitHub Actions and GitLab CI configurations.
var ciCommandKeys = map[string]struct{}{
	"run":    {},
	"script": {},
}

// extractCIYAML walks the YAML document and collects every string value
// under a "run" or "script" key at any depth.
func extractCIYAML(path string, content []byte) []Command {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil
	}

	var commands []Command
	walkYAML(&root, path, &commands)
	return commands
}

func walkYAML(node *yaml.Node, path string, commands *[]Command) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			walkYAML(child, path, commands)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if _, ok := ciCommandKeys[key.Value]; ok {
				collectCICommands(value, path, commands)
			} else {
				walkYAML(value, path, commands)
			}
		}
	}
}

// collectCICommands flattens a run/script value: a scalar contributes one
// command per non-empty, non-comment line, and each scalar element of a
// sequence is split the same way.
func collectCICommands(node *yaml.Node, path string, commands *[]Command) {
	switch node.Kind {
	case yaml.ScalarNode:
		for offset, line := range strings.Split(node.Value, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			*commands = append(*commands, Command{
				Text:   line,
				Source: flaretypes.Source{File: path, Line: node.Line + offset, Context: "CI config"},
			})
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				collectCICommands(item, path, commands)
			}
		}
	}
}
