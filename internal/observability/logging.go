// Package observability provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the conductor service.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logger construction.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// Format selects the handler: "json" or "text".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool

	// RedactKeys lists additional attribute keys whose values are scrubbed,
	// on top of the built-in secret keys.
	RedactKeys []string
}

// secret attribute keys always scrubbed, normalized to lowercase snake case.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"cookie":        true,
}

// secretValuePatterns match secret-shaped values regardless of key.
var secretValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
}

// NewLogger builds a slog.Logger with secret redaction. Attribute values under
// sensitive keys are replaced wholesale; string values elsewhere have
// secret-shaped substrings masked.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	redactKeys := make(map[string]bool, len(sensitiveKeys)+len(cfg.RedactKeys))
	for k := range sensitiveKeys {
		redactKeys[k] = true
	}
	for _, k := range cfg.RedactKeys {
		redactKeys[normalizeKey(k)] = true
	}

	opts := &slog.HandlerOptions{
		Level:     LevelFromString(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactAttr(redactKeys, a)
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

// LevelFromString parses a level name, defaulting to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "-", "_"))
}

func redactAttr(redactKeys map[string]bool, a slog.Attr) slog.Attr {
	if redactKeys[normalizeKey(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if masked := maskSecrets(a.Value.String()); masked != a.Value.String() {
			return slog.String(a.Key, masked)
		}
	}
	return a
}

func maskSecrets(s string) string {
	for _, re := range secretValuePatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
