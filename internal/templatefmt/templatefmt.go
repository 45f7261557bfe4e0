package templatefmt

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"logalert/internal/domain"
)

const maxSummaryText = 200

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"fmtTime":     FormatTime,
		"json":        MarshalJSON,
		"summaryLine": SummaryLine,
		"truncate":    Truncate,
	}
}

// ParseNotificationTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render executes a compiled template against one notification.
// Params: compiled template and notification payload.
// Returns: rendered text or execution error.
func Render(tpl *template.Template, notification domain.Notification) (string, error) {
	var out strings.Builder
	if err := tpl.Execute(&out, notification); err != nil {
		return "", fmt.Errorf("render template %q: %w", tpl.Name(), err)
	}
	return out.String(), nil
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration, *time.Duration, or grace minutes int.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	case int:
		duration = time.Duration(typed) * time.Minute
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatTime renders timestamp in RFC3339 UTC.
// Params: time.Time or *time.Time.
// Returns: formatted string, empty for zero or nil values.
func FormatTime(value any) string {
	var at time.Time
	switch typed := value.(type) {
	case time.Time:
		at = typed
	case *time.Time:
		if typed == nil {
			return ""
		}
		at = *typed
	default:
		return ""
	}
	if at.IsZero() {
		return ""
	}
	return at.UTC().Format(time.RFC3339)
}

// SummaryLine renders one evidence record as `partition timestamp source: message`.
// Params: message summary.
// Returns: single-line text with message truncated.
func SummaryLine(summary domain.MessageSummary) string {
	var b strings.Builder
	b.WriteString(summary.Index)
	b.WriteByte(' ')
	b.WriteString(FormatTime(summary.Message.Timestamp))
	if source := summary.Source(); source != "" {
		b.WriteByte(' ')
		b.WriteString(source)
	}
	b.WriteString(": ")
	b.WriteString(Truncate(maxSummaryText, summary.Text()))
	return b.String()
}

// Truncate shortens text to n runes with trailing ellipsis.
// Params: rune limit and text; argument order fits template pipelines.
// Returns: original or shortened text.
func Truncate(n int, text string) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
