package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadSnapshotFromFile(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection(""),
		telegramNotifySection("token", "chat", "tg_default", "[{{ .StreamTitle }}] {{ .Description }}"),
		`[notify.telegram.retry]
enabled = true
backoff = "exponential"
initial_ms = 10
max_ms = 100
max_attempts = 0
log_each_attempt = true`,
		fieldCondition("fc", routeBlock("fc", "telegram", "tg_default")),
	))

	if cfg.Service.Name != "logalert" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.Service.Mode != ServiceModeSingle {
		t.Fatalf("expected default single mode, got %q", cfg.Service.Mode)
	}
	if cfg.Service.CheckInterval() != time.Minute {
		t.Fatalf("expected default 60s interval, got %s", cfg.Service.CheckInterval())
	}
	if len(cfg.Condition) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(cfg.Condition))
	}
	condition := cfg.Condition[0]
	if condition.Name != "fc" || condition.Type != "field_content_value" || condition.Stream != "s1" {
		t.Fatalf("unexpected condition %+v", condition)
	}
	if condition.Parameters["field"] != "level" || condition.Parameters["value"] != "ERROR" {
		t.Fatalf("unexpected parameters %+v", condition.Parameters)
	}
	if len(condition.Route) != 1 {
		t.Fatalf("expected 1 route, got %d", len(condition.Route))
	}
	if ConditionID(condition) != "fc" {
		t.Fatalf("expected id fallback to table name, got %q", ConditionID(condition))
	}
	if !cfg.HTTP.Ingest {
		t.Fatalf("expected http ingest forced on in single mode")
	}
}

func TestLoadSnapshotDefaultIndexSet(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, fieldCondition("fc"))
	if len(cfg.IndexSet) != 1 {
		t.Fatalf("expected implicit index set, got %+v", cfg.IndexSet)
	}
	if cfg.IndexSet[0].Name != "default" || cfg.IndexSet[0].Prefix != "logalert" {
		t.Fatalf("unexpected implicit index set %+v", cfg.IndexSet[0])
	}
	if cfg.DefaultIndexSet() != "default" {
		t.Fatalf("unexpected default index set %q", cfg.DefaultIndexSet())
	}
}

func TestLoadSnapshotIndexSets(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		`[index_set.audit]
prefix = "audit"`,
		`[index_set.main]
prefix = "graylog"
default = true`,
		fieldCondition("fc"),
	))
	if len(cfg.IndexSet) != 2 {
		t.Fatalf("expected 2 index sets, got %d", len(cfg.IndexSet))
	}
	if cfg.IndexSet[0].Name != "audit" || cfg.IndexSet[1].Name != "main" {
		t.Fatalf("expected sorted index sets, got %+v", cfg.IndexSet)
	}
	if cfg.DefaultIndexSet() != "main" {
		t.Fatalf("unexpected default index set %q", cfg.DefaultIndexSet())
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "duplicate prefix",
			content: joinSections(
				`[index_set.a]
prefix = "same"`,
				`[index_set.b]
prefix = "same"`,
				fieldCondition("fc"),
			),
			wantErr: "is already used",
		},
		{
			name: "two defaults",
			content: joinSections(
				`[index_set.a]
default = true`,
				`[index_set.b]
default = true`,
				fieldCondition("fc"),
			),
			wantErr: "at most one index_set",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tt.content)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSnapshotConditionValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no conditions",
			content: serviceSection(""),
			wantErr: "at least one condition",
		},
		{
			name: "missing stream",
			content: `[condition.fc]
type = "field_content_value"`,
			wantErr: "stream is required",
		},
		{
			name: "missing type",
			content: `[condition.fc]
stream = "s1"`,
			wantErr: "type is required",
		},
		{
			name: "reused id",
			content: joinSections(
				`[condition.a]
id = "same"
type = "message_count"
stream = "s1"`,
				`[condition.b]
id = "same"
type = "message_count"
stream = "s1"`,
			),
			wantErr: `reuses id "same"`,
		},
		{
			name: "route to disabled channel",
			content: joinSections(
				fieldCondition("fc", routeBlock("fc", "telegram", "tg_default")),
			),
			wantErr: "is disabled",
		},
		{
			name: "route to unknown template",
			content: joinSections(
				httpNotifySection("https://hooks.example/alert", "http_default", "{{ .Description }}"),
				fieldCondition("fc", routeBlock("fc", "http", "missing")),
			),
			wantErr: "is not defined",
		},
		{
			name: "route to unsupported channel",
			content: joinSections(
				fieldCondition("fc", routeBlock("fc", "pager", "x")),
			),
			wantErr: "unsupported value",
		},
		{
			name: "duplicate route key",
			content: joinSections(
				httpNotifySection("https://hooks.example/alert", "http_default", "{{ .Description }}"),
				fieldCondition("fc",
					routeBlock("fc", "http", "http_default"),
					routeBlock("fc", "http", "http_default"),
				),
			),
			wantErr: "duplicate key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tt.content)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSnapshotConditionMetadata(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, `[condition.errors]
id = "cond-1"
type = "MESSAGE_COUNT"
title = "Too many errors"
stream = "s1"
stream_title = "Backend"
creator = "admin"
created_at = 2026-01-02T03:04:05Z

[condition.errors.parameters]
time = 5
threshold = 10
threshold_type = "more"
grace = 2
backlog = 3`)

	condition := cfg.Condition[0]
	if condition.ID != "cond-1" || condition.Type != "message_count" {
		t.Fatalf("unexpected identity %+v", condition)
	}
	if condition.Title != "Too many errors" || condition.StreamTitle != "Backend" || condition.Creator != "admin" {
		t.Fatalf("unexpected metadata %+v", condition)
	}
	if !condition.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected created_at %s", condition.CreatedAt)
	}
	if got, ok := condition.Parameters["threshold"].(int64); !ok || got != 10 {
		t.Fatalf("expected int64 threshold parameter, got %#v", condition.Parameters["threshold"])
	}
}

func TestLoadSnapshotTemplateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "reject invalid telegram template",
			content: joinSections(
				telegramNotifySection("token", "chat", "tg_default", "{{ .Description "),
				fieldCondition("fc", routeBlock("fc", "telegram", "tg_default")),
			),
			wantErr: "notify.telegram.name-template[0].message",
		},
		{
			name: "reject enabled telegram without credentials",
			content: joinSections(
				telegramNotifySection("", "", "tg_default", "{{ .Description }}"),
				fieldCondition("fc", routeBlock("fc", "telegram", "tg_default")),
			),
			wantErr: "notify.telegram.bot_token",
		},
		{
			name: "allow fmtTime and summary helpers",
			content: joinSections(
				httpNotifySection("https://hooks.example/alert", "http_default", "{{ fmtTime .TriggeredAt }} {{ range .Summaries }}{{ summaryLine . }}{{ end }}"),
				fieldCondition("fc", routeBlock("fc", "http", "http_default")),
			),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadSnapshotFromContent(t, tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadSnapshotNATSMode(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection(ServiceModeNATS),
		`[nats]
url = [" nats://127.0.0.1:4222 "]`,
		`[nats.ingest]
enabled = true
workers = 2`,
		`[nats.verdicts]
enabled = true`,
		fieldCondition("fc"),
	))

	if cfg.NATS.URL[0] != "nats://127.0.0.1:4222" {
		t.Fatalf("expected trimmed url, got %q", cfg.NATS.URL[0])
	}
	if cfg.NATS.StateBucket != defaultNATSStateBucket {
		t.Fatalf("unexpected state bucket %q", cfg.NATS.StateBucket)
	}
	if cfg.NATS.Ingest.Subject != defaultNATSSubject || cfg.NATS.Ingest.Stream != defaultNATSIngestStream {
		t.Fatalf("unexpected ingest routing %+v", cfg.NATS.Ingest)
	}
	if cfg.NATS.Ingest.MaxDeliver != -1 {
		t.Fatalf("expected unlimited redelivery default, got %d", cfg.NATS.Ingest.MaxDeliver)
	}
	if cfg.HTTP.Ingest {
		t.Fatalf("expected http ingest to stay off when nats ingest is enabled")
	}
	if !cfg.NATS.Verdicts.Enabled || cfg.NATS.Verdicts.SubjectPrefix != defaultNATSVerdictSubject {
		t.Fatalf("unexpected verdict config %+v", cfg.NATS.Verdicts)
	}
}

func TestLoadSnapshotSingleModeDisablesNATS(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection(ServiceModeSingle),
		`[nats.ingest]
enabled = true`,
		`[nats.verdicts]
enabled = true`,
		fieldCondition("fc"),
	))
	if cfg.NATS.Ingest.Enabled || cfg.NATS.Verdicts.Enabled {
		t.Fatalf("expected nats paths disabled in single mode: %+v", cfg.NATS)
	}
	if len(cfg.NATS.URL) != 0 {
		t.Fatalf("expected no nats url defaults in single mode")
	}
}

func TestLoadSnapshotRejectsUnsupportedSyntax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "condition array",
			content: `[[condition]]
type = "message_count"`,
			wantErr: "[[condition]] arrays are not supported",
		},
		{
			name: "fixed nats subject",
			content: joinSections(
				serviceSection(ServiceModeNATS),
				`[nats.ingest]
subject = "custom"`,
				fieldCondition("fc"),
			),
			wantErr: "fixed in runtime",
		},
		{
			name: "unknown mode",
			content: joinSections(
				serviceSection("cluster"),
				fieldCondition("fc"),
			),
			wantErr: "service.mode",
		},
		{
			name: "bad http path",
			content: joinSections(
				`[http]
ingest_path = "ingest"`,
				fieldCondition("fc"),
			),
			wantErr: "http.ingest_path must start with /",
		},
		{
			name: "duplicate http path",
			content: joinSections(
				`[http]
ingest_path = "/healthz"`,
				fieldCondition("fc"),
			),
			wantErr: "duplicates",
		},
		{
			name: "bad log level",
			content: joinSections(
				`[log.console]
enabled = true
level = "trace"`,
				fieldCondition("fc"),
			),
			wantErr: "log.console.level",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tt.content)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSnapshotFromDirAndDuplicateConditionValidation(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "a.toml"), fieldCondition("fc"))
	writeConfigFile(t, filepath.Join(tmpDir, "b.toml"), fieldCondition("fc"))

	_, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err == nil {
		t.Fatalf("expected duplicate condition validation error")
	}
	if !strings.Contains(err.Error(), "duplicate condition name") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadDirMergesFragments(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "00-service.toml"), joinSections(
		`[service]
alert_check_interval_sec = 10
reload_enabled = true`,
		httpNotifySection("https://hooks.example/alert", "http_default", "{{ .Description }}"),
	))
	writeConfigFile(t, filepath.Join(tmpDir, "10-conditions.toml"), joinSections(
		fieldCondition("fc", routeBlock("fc", "http", "http_default")),
		`[condition.count]
type = "message_count"
stream = "s2"`,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "README.md"), "ignored")

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Service.AlertCheckIntervalSec != 10 || !cfg.Service.ReloadEnabled {
		t.Fatalf("unexpected service %+v", cfg.Service)
	}
	if len(cfg.Condition) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(cfg.Condition))
	}
	if cfg.Service.CheckTimeoutSec != 10 {
		t.Fatalf("expected check timeout clamped to interval, got %d", cfg.Service.CheckTimeoutSec)
	}
}

func TestMergeNotifyConfigAppliesExplicitFalse(t *testing.T) {
	t.Parallel()

	dst := NotifyConfig{
		Telegram: TelegramNotifier{Enabled: true},
		HTTP:     HTTPNotifier{Enabled: true},
	}
	src := NotifyConfig{}
	hints := notifyMergeHints{
		Telegram: channelMergeHints{Enabled: boolPtr(false)},
		HTTP:     channelMergeHints{Enabled: boolPtr(false)},
	}

	mergeNotifyConfig(&dst, src, hints)

	if dst.Telegram.Enabled {
		t.Fatalf("expected telegram.enabled=false after explicit false merge")
	}
	if dst.HTTP.Enabled {
		t.Fatalf("expected http.enabled=false after explicit false merge")
	}
}

func TestLoadDirNotifyExplicitFalseOverrides(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "a.toml"), joinSections(
		`[notify.telegram]
enabled = true
bot_token = "token-a"
chat_id = "chat-a"`,
		`[notify.http]
enabled = true
url = "https://hooks.example/a"
[notify.http.headers]
X-Team = "core"`,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "b.toml"), joinSections(
		`[notify.telegram]
enabled = false`,
		`[notify.http]
[notify.http.headers]
X-Env = "prod"`,
	))

	cfg, err := loadDir(tmpDir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Notify.Telegram.Enabled {
		t.Fatalf("expected telegram.enabled=false from explicit override")
	}
	if cfg.Notify.Telegram.BotToken != "token-a" || cfg.Notify.Telegram.ChatID != "chat-a" {
		t.Fatalf("expected telegram credentials preserved from previous fragment")
	}
	if !cfg.Notify.HTTP.Enabled || cfg.Notify.HTTP.URL != "https://hooks.example/a" {
		t.Fatalf("expected http notifier preserved, got %+v", cfg.Notify.HTTP)
	}
	if cfg.Notify.HTTP.Headers["X-Team"] != "core" || cfg.Notify.HTTP.Headers["X-Env"] != "prod" {
		t.Fatalf("expected merged headers, got %+v", cfg.Notify.HTTP.Headers)
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without sources")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(fieldCondition("fc")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HTTP.Listen != defaultHTTPListen || cfg.HTTP.CyclePath != defaultCyclePath {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if _, err := Parse([]byte("[condition.fc")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func serviceSection(mode string) string {
	if mode == "" {
		return `[service]
name = "logalert"`
	}
	return fmt.Sprintf(`[service]
name = "logalert"
mode = %q`, mode)
}

func fieldCondition(name string, routeBlocks ...string) string {
	sections := []string{
		fmt.Sprintf(`[condition.%s]
type = "field_content_value"
stream = "s1"`, name),
		fmt.Sprintf(`[condition.%s.parameters]
field = "level"
value = "ERROR"
grace = 1`, name),
	}
	sections = append(sections, routeBlocks...)
	return joinSections(sections...)
}

func routeBlock(condition, channel, template string) string {
	return strings.Join([]string{
		fmt.Sprintf("[[condition.%s.route]]", condition),
		fmt.Sprintf("channel = %q", channel),
		fmt.Sprintf("template = %q", template),
	}, "\n")
}

func telegramNotifySection(botToken, chatID, templateName, message string) string {
	return joinSections(
		fmt.Sprintf(`[notify.telegram]
enabled = true
bot_token = %q
chat_id = %q`, botToken, chatID),
		fmt.Sprintf(`[[notify.telegram.name-template]]
name = %q
message = %q`, templateName, message),
	)
}

func httpNotifySection(url, templateName, message string) string {
	return joinSections(
		fmt.Sprintf(`[notify.http]
enabled = true
url = %q`, url),
		fmt.Sprintf(`[[notify.http.name-template]]
name = %q
message = %q`, templateName, message),
	)
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func boolPtr(value bool) *bool {
	return &value
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
