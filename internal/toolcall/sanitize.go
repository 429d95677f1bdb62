package toolcall

import (
	"regexp"
	"strings"
)

// Handler failures travel back into the model's conversation, so anything
// that smells like a credential, connection string, or stack trace has to
// go before the message leaves the process.
var redactions = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|authorization)[=:]\s*\S+`), "$1=[redacted]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`), "bearer [redacted]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "[redacted]"},
	{regexp.MustCompile(`[a-z]+://[^:/\s]+:[^@/\s]+@`), "[redacted]@"}, // userinfo in URLs
	{regexp.MustCompile(`\b[0-9a-f]{32,}\b`), "[redacted]"},
}

const maxErrorLen = 500

// SanitizeError converts a handler failure into a string safe to replay to
// the model: first line only (no stack traces), credentials redacted,
// length bounded.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.repl)
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return msg
}
