package logging

import "log/slog"

// ANSI color codes for interactive level badges.
const (
	resetCode  = "\033[0m"
	grayCode   = "\033[90m"
	yellowCode = "\033[33m"
	redCode    = "\033[31m"
	cyanCode   = "\033[36m"
)

// colorizeLevel is a slog ReplaceAttr hook that wraps the level value in
// an ANSI color on terminals.
func colorizeLevel(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 || attr.Key != slog.LevelKey {
		return attr
	}
	level, ok := attr.Value.Any().(slog.Level)
	if !ok {
		return attr
	}

	var code string
	switch {
	case level >= slog.LevelError:
		code = redCode
	case level >= slog.LevelWarn:
		code = yellowCode
	case level >= slog.LevelInfo:
		code = cyanCode
	default:
		code = grayCode
	}
	attr.Value = slog.StringValue(code + level.String() + resetCode)
	return attr
}
