package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"logalert/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName         = "logalert"
	defaultCheckIntervalSec    = 60
	defaultCheckTimeoutSec     = 30
	defaultMaxConcurrentChecks = 8
	defaultReloadSeconds       = 5
	defaultHTTPListen          = ":8080"
	defaultHealthPath          = "/healthz"
	defaultReadyPath           = "/readyz"
	defaultMetricsPath         = "/metrics"
	defaultIngestPath          = "/ingest"
	defaultCyclePath           = "/system/deflector/cycle"
	defaultMaxBodyBytes        = 2 << 20
	defaultIndexSetName        = "default"
	defaultIndexPrefix         = "logalert"
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultNATSSubject         = "logalert.messages"
	defaultNATSIngestStream    = "LOGALERT_MESSAGES"
	defaultNATSIngestConsumer  = "logalert-ingest"
	defaultNATSIngestGroup     = "logalert-workers"
	defaultNATSIngestWorkers   = 1
	defaultNATSAckWaitSec      = 30
	defaultNATSNackDelayMS     = 1000
	defaultNATSMaxDeliver      = -1
	defaultNATSMaxAckPending   = 2048
	defaultNATSStateBucket     = "logalert_condition_state"
	defaultNATSVerdictStream   = "LOGALERT_VERDICTS"
	defaultNATSVerdictSubject  = "logalert.verdicts"
	defaultNotifyTimeoutSec    = 10

	// ServiceModeNATS keeps condition state in NATS KV and enables JetStream paths.
	ServiceModeNATS = "nats"
	// ServiceModeSingle runs one process with in-memory state and no NATS.
	ServiceModeSingle = "single"

	// NotifyChannelTelegram identifies Telegram transport.
	NotifyChannelTelegram = "telegram"
	// NotifyChannelHTTP identifies generic HTTP webhook transport.
	NotifyChannelHTTP = "http"
)

var (
	notifyChannelOrder    = []string{NotifyChannelTelegram, NotifyChannelHTTP}
	notifyChannelRegistry = map[string]notifyChannelDescriptor{
		NotifyChannelTelegram: {
			enabled:   func(cfg NotifyConfig) bool { return cfg.Telegram.Enabled },
			retry:     func(cfg NotifyConfig) NotifyRetry { return cfg.Telegram.Retry },
			templates: func(cfg NotifyConfig) []NamedTemplateConfig { return cfg.Telegram.NameTemplate },
		},
		NotifyChannelHTTP: {
			enabled:   func(cfg NotifyConfig) bool { return cfg.HTTP.Enabled },
			retry:     func(cfg NotifyConfig) NotifyRetry { return cfg.HTTP.Retry },
			templates: func(cfg NotifyConfig) []NamedTemplateConfig { return cfg.HTTP.NameTemplate },
		},
	}

	legacyConditionArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*condition\s*\]\]`)
)

// notifyChannelDescriptor stores generic accessors for one notify transport.
// Params: config readers for enabled/retry/templates fields.
// Returns: channel metadata used by generic helpers.
type notifyChannelDescriptor struct {
	enabled   func(NotifyConfig) bool
	retry     func(NotifyConfig) NotifyRetry
	templates func(NotifyConfig) []NamedTemplateConfig
}

// Config holds service runtime settings, index sets, and alert conditions.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service   ServiceConfig
	Log       LogConfig
	HTTP      HTTPConfig
	NATS      NATSConfig
	Notify    NotifyConfig
	IndexSet  []IndexSetConfig
	Condition []ConditionConfig
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw index-set and condition maps keyed by table name.
type rawConfig struct {
	Service   ServiceConfig                 `toml:"service"`
	Log       LogConfig                     `toml:"log"`
	HTTP      HTTPConfig                    `toml:"http"`
	NATS      NATSConfig                    `toml:"nats"`
	Notify    NotifyConfig                  `toml:"notify"`
	IndexSet  map[string]rawIndexSetConfig  `toml:"index_set"`
	Condition map[string]rawConditionConfig `toml:"condition"`
}

// rawIndexSetConfig stores one `[index_set.<name>]` body.
type rawIndexSetConfig struct {
	Prefix  string `toml:"prefix"`
	Default bool   `toml:"default"`
}

// rawConditionConfig stores one `[condition.<name>]` body.
type rawConditionConfig struct {
	ID          string         `toml:"id"`
	Type        string         `toml:"type"`
	Title       string         `toml:"title"`
	Stream      string         `toml:"stream"`
	StreamTitle string         `toml:"stream_title"`
	Creator     string         `toml:"creator"`
	CreatedAt   time.Time      `toml:"created_at"`
	Parameters  map[string]any `toml:"parameters"`
	Route       []RouteConfig  `toml:"route"`
}

// ServiceConfig contains process-level settings.
// Params: name, mode, check cadence, concurrency, and reload settings.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name                  string `toml:"name"`
	Mode                  string `toml:"mode"`
	AlertCheckIntervalSec int    `toml:"alert_check_interval_sec"`
	CheckTimeoutSec       int    `toml:"check_timeout_sec"`
	MaxConcurrentChecks   int    `toml:"max_concurrent_checks"`
	ReloadEnabled         bool   `toml:"reload_enabled"`
	ReloadIntervalSec     int    `toml:"reload_interval_sec"`
}

// CheckInterval returns the global alert check interval.
func (s ServiceConfig) CheckInterval() time.Duration {
	return time.Duration(s.AlertCheckIntervalSec) * time.Second
}

// CheckTimeout returns the per-check deadline.
func (s ServiceConfig) CheckTimeout() time.Duration {
	return time.Duration(s.CheckTimeoutSec) * time.Second
}

// LogConfig contains console and file sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// HTTPConfig configures health, metrics, ingest, and deflector endpoints.
// Params: listen address, endpoint paths, body limit, and ingest toggle.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	IngestPath   string `toml:"ingest_path"`
	CyclePath    string `toml:"cycle_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	Ingest       bool   `toml:"ingest"`
}

// NATSConfig groups JetStream connection, ingest, state, and verdict settings.
// Params: URL list plus per-feature sections; subjects and buckets are runtime-fixed.
// Returns: NATS behavior for service.mode=nats.
type NATSConfig struct {
	URL         []string          `toml:"url"`
	StateBucket string            `toml:"-"`
	Ingest      NATSIngestConfig  `toml:"ingest"`
	Verdicts    NATSVerdictConfig `toml:"verdicts"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: worker/ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool   `toml:"enabled"`
	Subject       string `toml:"-"`
	Stream        string `toml:"-"`
	ConsumerName  string `toml:"-"`
	DeliverGroup  string `toml:"-"`
	Workers       int    `toml:"workers"`
	AckWaitSec    int    `toml:"ack_wait_sec"`
	NackDelayMS   int    `toml:"nack_delay_ms"`
	MaxDeliver    int    `toml:"max_deliver"`
	MaxAckPending int    `toml:"max_ack_pending"`
}

// NATSVerdictConfig configures publishing of triggered verdicts.
type NATSVerdictConfig struct {
	Enabled       bool   `toml:"enabled"`
	Stream        string `toml:"-"`
	SubjectPrefix string `toml:"-"`
}

// NotifyConfig defines outbound notification behavior.
// Params: dispatch rate limit and per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	RateLimitPerSec float64          `toml:"rate_limit_per_sec"`
	RateBurst       int              `toml:"rate_burst"`
	Telegram        TelegramNotifier `toml:"telegram"`
	HTTP            HTTPNotifier     `toml:"http"`
}

// NamedTemplateConfig describes one reusable message template within one channel section.
// Params: template name and Go text/template body.
// Returns: template entry that can be referenced from condition routes.
type NamedTemplateConfig struct {
	Name    string `toml:"name"`
	Message string `toml:"message"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// TelegramNotifier defines Telegram channel settings.
// Params: enabled flag, bot token, chat ID, API base URL, and retry policy.
// Returns: Telegram sender configuration.
type TelegramNotifier struct {
	Enabled      bool                  `toml:"enabled"`
	BotToken     string                `toml:"bot_token"`
	ChatID       string                `toml:"chat_id"`
	APIBase      string                `toml:"api_base"`
	Retry        NotifyRetry           `toml:"retry"`
	NameTemplate []NamedTemplateConfig `toml:"name-template"`
}

// HTTPNotifier defines generic outbound HTTP webhook endpoint.
// Params: URL, method, timeout, optional static headers, and retry policy.
// Returns: HTTP notification sender configuration.
type HTTPNotifier struct {
	Enabled      bool                  `toml:"enabled"`
	URL          string                `toml:"url"`
	Method       string                `toml:"method"`
	TimeoutSec   int                   `toml:"timeout_sec"`
	Headers      map[string]string     `toml:"headers"`
	Retry        NotifyRetry           `toml:"retry"`
	NameTemplate []NamedTemplateConfig `toml:"name-template"`
}

// IndexSetConfig describes one rotating partition collection.
// Params: table-derived name, index prefix, and default-for-ingest flag.
// Returns: index-set definition.
type IndexSetConfig struct {
	Name    string
	Prefix  string
	Default bool
}

// ConditionConfig describes one alert condition.
// Params: table-derived name, identity, owning stream, type, parameters, and routes.
// Returns: runtime condition definition.
type ConditionConfig struct {
	Name        string
	ID          string
	Type        string
	Title       string
	Stream      string
	StreamTitle string
	Creator     string
	CreatedAt   time.Time
	Parameters  map[string]any
	Route       []RouteConfig
}

// RouteConfig binds one transport channel with one named message template.
// Params: optional route name, transport channel, and template name.
// Returns: one outbound routing rule for triggered verdicts.
type RouteConfig struct {
	Name     string `toml:"name"`
	Channel  string `toml:"channel"`
	Template string `toml:"template"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes, defaults, and validates one in-memory TOML document.
// Params: TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	cfg, _, err := decode(body)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultIndexSet returns the index set receiving messages without explicit target.
// Params: none.
// Returns: index-set name, empty when none is configured.
func (c Config) DefaultIndexSet() string {
	for _, set := range c.IndexSet {
		if set.Default {
			return set.Name
		}
	}
	if len(c.IndexSet) > 0 {
		return c.IndexSet[0].Name
	}
	return ""
}

// configMergeHints carries explicit bool-presence markers used for directory overlays.
// Params: sparse fields decoded from one TOML fragment.
// Returns: merge behavior hints for zero-value bool overrides.
type configMergeHints struct {
	Service serviceMergeHints `toml:"service"`
	Notify  notifyMergeHints  `toml:"notify"`
}

type serviceMergeHints struct {
	ReloadEnabled *bool `toml:"reload_enabled"`
}

// notifyMergeHints tracks explicit bool fields in notify section.
type notifyMergeHints struct {
	Telegram channelMergeHints `toml:"telegram"`
	HTTP     channelMergeHints `toml:"http"`
}

// channelMergeHints tracks explicit enabled flags in channel sections.
type channelMergeHints struct {
	Enabled *bool `toml:"enabled"`
}

// hasExplicitBool reports whether notify fragment contains explicit bool keys.
func (h notifyMergeHints) hasExplicitBool() bool {
	return h.Telegram.Enabled != nil || h.HTTP.Enabled != nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot with tables sorted by name.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		HTTP:    raw.HTTP,
		NATS:    raw.NATS,
		Notify:  raw.Notify,
	}

	for _, name := range sortedKeys(raw.IndexSet) {
		body := raw.IndexSet[name]
		cfg.IndexSet = append(cfg.IndexSet, IndexSetConfig{
			Name:    name,
			Prefix:  strings.TrimSpace(body.Prefix),
			Default: body.Default,
		})
	}

	for _, name := range sortedKeys(raw.Condition) {
		body := raw.Condition[name]
		cfg.Condition = append(cfg.Condition, ConditionConfig{
			Name:        name,
			ID:          strings.TrimSpace(body.ID),
			Type:        strings.ToLower(strings.TrimSpace(body.Type)),
			Title:       body.Title,
			Stream:      strings.TrimSpace(body.Stream),
			StreamTitle: body.StreamTitle,
			Creator:     body.Creator,
			CreatedAt:   body.CreatedAt,
			Parameters:  body.Parameters,
			Route:       body.Route,
		})
	}
	return cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// rejectUnsupportedSyntax checks forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyConditionArrayPattern.Match(body) {
		return errors.New("[[condition]] arrays are not supported; use [condition.<name>] tables")
	}
	var probe fixedNATSKeys
	if err := toml.Unmarshal(body, &probe); err != nil {
		return err
	}
	if probe.present() {
		return errors.New("nats subject/stream/consumer_name/deliver_group/state_bucket are fixed in runtime and must not be configured")
	}
	return nil
}

// fixedNATSKeys detects runtime-owned NATS keys set by the user.
type fixedNATSKeys struct {
	NATS struct {
		StateBucket *string `toml:"state_bucket"`
		Ingest      struct {
			Subject      *string `toml:"subject"`
			Stream       *string `toml:"stream"`
			ConsumerName *string `toml:"consumer_name"`
			DeliverGroup *string `toml:"deliver_group"`
		} `toml:"ingest"`
		Verdicts struct {
			Stream  *string `toml:"stream"`
			Subject *string `toml:"subject"`
		} `toml:"verdicts"`
	} `toml:"nats"`
}

func (k fixedNATSKeys) present() bool {
	n := k.NATS
	return n.StateBucket != nil ||
		n.Ingest.Subject != nil || n.Ingest.Stream != nil ||
		n.Ingest.ConsumerName != nil || n.Ingest.DeliverGroup != nil ||
		n.Verdicts.Stream != nil || n.Verdicts.Subject != nil
}

// decode parses one TOML body into config plus merge hints.
func decode(body []byte) (Config, configMergeHints, error) {
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, configMergeHints{}, err
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, configMergeHints{}, err
	}
	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, configMergeHints{}, err
	}
	var hints configMergeHints
	if err := toml.Unmarshal(body, &hints); err != nil {
		return Config{}, configMergeHints{}, err
	}
	return cfg, hints, nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	cfg, _, err := loadFileForMerge(path)
	return cfg, err
}

// loadFileForMerge reads one TOML file with merge hints.
// Params: file path to config fragment.
// Returns: decoded config plus explicit-bool hints for overlay merge.
func loadFileForMerge(path string) (Config, configMergeHints, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, hints, err := decode(body)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, hints, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, hints, err := loadFileForMerge(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment, hints)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config, next fragment, and explicit-bool hints.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config, hints configMergeHints) {
	if src.Service != (ServiceConfig{}) || hints.Service.ReloadEnabled != nil {
		reload := dst.Service.ReloadEnabled
		dst.Service = src.Service
		dst.Service.ReloadEnabled = reload
		applyBoolMerge(&dst.Service.ReloadEnabled, src.Service.ReloadEnabled, hints.Service.ReloadEnabled)
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.HTTP != (HTTPConfig{}) {
		dst.HTTP = src.HTTP
	}
	if hasNATSConfig(src.NATS) {
		dst.NATS = src.NATS
	}
	if hasNotifyConfig(src.Notify) || hints.Notify.hasExplicitBool() {
		mergeNotifyConfig(&dst.Notify, src.Notify, hints.Notify)
	}
	dst.IndexSet = append(dst.IndexSet, src.IndexSet...)
	dst.Condition = append(dst.Condition, src.Condition...)
}

// mergeNotifyConfig overlays notify fragment into destination preserving existing sibling fields.
// Params: destination notify config and fragment from one source file.
// Returns: merged notify configuration side-effect in dst.
func mergeNotifyConfig(dst *NotifyConfig, src NotifyConfig, hints notifyMergeHints) {
	if src.RateLimitPerSec != 0 {
		dst.RateLimitPerSec = src.RateLimitPerSec
	}
	if src.RateBurst != 0 {
		dst.RateBurst = src.RateBurst
	}
	mergeTelegramNotifier(&dst.Telegram, src.Telegram, hints.Telegram)
	mergeHTTPNotifier(&dst.HTTP, src.HTTP, hints.HTTP)
}

// mergeTelegramNotifier overlays telegram transport config preserving other notify fields.
func mergeTelegramNotifier(dst *TelegramNotifier, src TelegramNotifier, hints channelMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if strings.TrimSpace(src.BotToken) != "" {
		dst.BotToken = src.BotToken
	}
	if strings.TrimSpace(src.ChatID) != "" {
		dst.ChatID = src.ChatID
	}
	if strings.TrimSpace(src.APIBase) != "" {
		dst.APIBase = src.APIBase
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
	if len(src.NameTemplate) > 0 {
		dst.NameTemplate = append(dst.NameTemplate, src.NameTemplate...)
	}
}

// mergeHTTPNotifier overlays HTTP transport config preserving other notify fields.
func mergeHTTPNotifier(dst *HTTPNotifier, src HTTPNotifier, hints channelMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if strings.TrimSpace(src.URL) != "" {
		dst.URL = src.URL
	}
	if strings.TrimSpace(src.Method) != "" {
		dst.Method = src.Method
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if len(src.Headers) > 0 {
		if dst.Headers == nil {
			dst.Headers = make(map[string]string, len(src.Headers))
		}
		for key, value := range src.Headers {
			dst.Headers[key] = value
		}
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
	if len(src.NameTemplate) > 0 {
		dst.NameTemplate = append(dst.NameTemplate, src.NameTemplate...)
	}
}

// applyBoolMerge merges bool with explicit-value awareness for directory overlays.
// Params: destination bool pointer, source decoded bool, and explicit source marker.
// Returns: merged bool side-effect in dst.
func applyBoolMerge(dst *bool, value bool, explicit *bool) {
	if explicit != nil {
		*dst = *explicit
		return
	}
	if value {
		*dst = true
	}
}

// hasNATSConfig reports whether NATS section has explicit values.
func hasNATSConfig(cfg NATSConfig) bool {
	return len(cfg.URL) > 0 || cfg.Ingest != (NATSIngestConfig{}) || cfg.Verdicts != (NATSVerdictConfig{})
}

// hasNotifyConfig checks whether notify section contains any explicit values.
// Params: notify configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasNotifyConfig(cfg NotifyConfig) bool {
	if cfg.RateLimitPerSec != 0 || cfg.RateBurst != 0 {
		return true
	}
	if cfg.Telegram.Enabled ||
		strings.TrimSpace(cfg.Telegram.BotToken) != "" ||
		strings.TrimSpace(cfg.Telegram.ChatID) != "" ||
		strings.TrimSpace(cfg.Telegram.APIBase) != "" ||
		cfg.Telegram.Retry != (NotifyRetry{}) ||
		len(cfg.Telegram.NameTemplate) > 0 {
		return true
	}
	return cfg.HTTP.Enabled ||
		strings.TrimSpace(cfg.HTTP.URL) != "" ||
		strings.TrimSpace(cfg.HTTP.Method) != "" ||
		cfg.HTTP.TimeoutSec != 0 ||
		len(cfg.HTTP.Headers) > 0 ||
		cfg.HTTP.Retry != (NotifyRetry{}) ||
		len(cfg.HTTP.NameTemplate) > 0
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.AlertCheckIntervalSec == 0 {
		cfg.Service.AlertCheckIntervalSec = defaultCheckIntervalSec
	}
	if cfg.Service.CheckTimeoutSec == 0 {
		cfg.Service.CheckTimeoutSec = min(defaultCheckTimeoutSec, max(cfg.Service.AlertCheckIntervalSec, 1))
	}
	if cfg.Service.MaxConcurrentChecks == 0 {
		cfg.Service.MaxConcurrentChecks = defaultMaxConcurrentChecks
	}
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	fillPath(&cfg.HTTP.HealthPath, defaultHealthPath)
	fillPath(&cfg.HTTP.ReadyPath, defaultReadyPath)
	fillPath(&cfg.HTTP.MetricsPath, defaultMetricsPath)
	fillPath(&cfg.HTTP.IngestPath, defaultIngestPath)
	fillPath(&cfg.HTTP.CyclePath, defaultCyclePath)
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode always disables NATS-dependent paths regardless of user flags.
		cfg.NATS.Ingest.Enabled = false
		cfg.NATS.Verdicts.Enabled = false
		cfg.HTTP.Ingest = true
	} else {
		cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
		if len(cfg.NATS.URL) == 0 {
			cfg.NATS.URL = []string{defaultNATSURL}
		}
		cfg.NATS.StateBucket = defaultNATSStateBucket
		cfg.NATS.Ingest.Subject = defaultNATSSubject
		cfg.NATS.Ingest.Stream = defaultNATSIngestStream
		cfg.NATS.Ingest.ConsumerName = defaultNATSIngestConsumer
		cfg.NATS.Ingest.DeliverGroup = defaultNATSIngestGroup
		if cfg.NATS.Ingest.Workers == 0 {
			cfg.NATS.Ingest.Workers = defaultNATSIngestWorkers
		}
		if cfg.NATS.Ingest.AckWaitSec <= 0 {
			cfg.NATS.Ingest.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.NATS.Ingest.NackDelayMS <= 0 {
			cfg.NATS.Ingest.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.NATS.Ingest.MaxDeliver == 0 {
			cfg.NATS.Ingest.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.NATS.Ingest.MaxAckPending <= 0 {
			cfg.NATS.Ingest.MaxAckPending = defaultNATSMaxAckPending
		}
		cfg.NATS.Verdicts.Stream = defaultNATSVerdictStream
		cfg.NATS.Verdicts.SubjectPrefix = defaultNATSVerdictSubject
		if !cfg.HTTP.Ingest && !cfg.NATS.Ingest.Enabled {
			cfg.HTTP.Ingest = true
		}
	}

	if cfg.Notify.RateBurst <= 0 {
		cfg.Notify.RateBurst = 1
	}
	if cfg.Notify.Telegram.APIBase == "" {
		cfg.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	fillNotifyRetryDefaults(&cfg.Notify.Telegram.Retry)
	if cfg.Notify.HTTP.Method == "" {
		cfg.Notify.HTTP.Method = "POST"
	}
	if cfg.Notify.HTTP.TimeoutSec <= 0 {
		cfg.Notify.HTTP.TimeoutSec = defaultNotifyTimeoutSec
	}
	fillNotifyRetryDefaults(&cfg.Notify.HTTP.Retry)

	if len(cfg.IndexSet) == 0 {
		cfg.IndexSet = []IndexSetConfig{{Name: defaultIndexSetName, Prefix: defaultIndexPrefix, Default: true}}
	}
	for i := range cfg.IndexSet {
		if cfg.IndexSet[i].Prefix == "" {
			cfg.IndexSet[i].Prefix = strings.ToLower(cfg.IndexSet[i].Name)
		}
	}
}

func fillPath(path *string, fallback string) {
	if strings.TrimSpace(*path) == "" {
		*path = fallback
	}
}

// fillNotifyRetryDefaults normalizes retry policy fields for one channel.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first failing validation rule.
func validateConfig(cfg Config) error {
	if len(cfg.Condition) == 0 {
		return errors.New("at least one condition is required")
	}
	mode := NormalizeServiceMode(cfg.Service.Mode)
	if !IsSupportedServiceMode(mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if cfg.Service.AlertCheckIntervalSec <= 0 {
		return errors.New("service.alert_check_interval_sec must be >0")
	}
	if cfg.Service.CheckTimeoutSec <= 0 {
		return errors.New("service.check_timeout_sec must be >0")
	}
	if cfg.Service.MaxConcurrentChecks <= 0 {
		return errors.New("service.max_concurrent_checks must be >0")
	}
	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		return errors.New("http.listen is required")
	}
	if err := validatePaths(cfg.HTTP); err != nil {
		return err
	}

	if mode == ServiceModeNATS {
		if len(cfg.NATS.URL) == 0 {
			return errors.New("nats.url is required")
		}
		for i, url := range cfg.NATS.URL {
			if url == "" {
				return fmt.Errorf("nats.url[%d] is empty", i)
			}
		}
		if cfg.NATS.Ingest.Enabled {
			if cfg.NATS.Ingest.Workers <= 0 {
				return errors.New("nats.ingest.workers must be >0 when nats.ingest.enabled=true")
			}
			if cfg.NATS.Ingest.MaxDeliver < -1 || cfg.NATS.Ingest.MaxDeliver == 0 {
				return errors.New("nats.ingest.max_deliver must be -1 or >0")
			}
		}
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Notify.RateLimitPerSec < 0 {
		return errors.New("notify.rate_limit_per_sec must be >=0")
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when notify.telegram.enabled=true")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when notify.telegram.enabled=true")
		}
	}
	if cfg.Notify.HTTP.Enabled && strings.TrimSpace(cfg.Notify.HTTP.URL) == "" {
		return errors.New("notify.http.url is required when notify.http.enabled=true")
	}
	templateByChannel, err := validateNotifyTemplates(cfg.Notify)
	if err != nil {
		return err
	}

	if err := validateIndexSets(cfg.IndexSet); err != nil {
		return err
	}

	conditionNames := make(map[string]struct{}, len(cfg.Condition))
	conditionIDs := make(map[string]string, len(cfg.Condition))
	for i, condition := range cfg.Condition {
		if err := validateCondition(condition); err != nil {
			return fmt.Errorf("condition[%d] %q: %w", i, condition.Name, err)
		}
		if _, exists := conditionNames[condition.Name]; exists {
			return fmt.Errorf("duplicate condition name %q", condition.Name)
		}
		conditionNames[condition.Name] = struct{}{}
		id := ConditionID(condition)
		if other, exists := conditionIDs[id]; exists {
			return fmt.Errorf("condition %q reuses id %q of condition %q", condition.Name, id, other)
		}
		conditionIDs[id] = condition.Name

		if err := validateRoutes(cfg.Notify, condition, templateByChannel); err != nil {
			return fmt.Errorf("condition[%d] %q: %w", i, condition.Name, err)
		}
	}
	return nil
}

// ConditionID returns configured id, falling back to the table name.
func ConditionID(condition ConditionConfig) string {
	if condition.ID != "" {
		return condition.ID
	}
	return condition.Name
}

func validatePaths(cfg HTTPConfig) error {
	paths := map[string]string{
		"http.health_path":  cfg.HealthPath,
		"http.ready_path":   cfg.ReadyPath,
		"http.metrics_path": cfg.MetricsPath,
		"http.ingest_path":  cfg.IngestPath,
		"http.cycle_path":   cfg.CyclePath,
	}
	seen := make(map[string]string, len(paths))
	for _, key := range sortedKeys(paths) {
		path := paths[key]
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /", key)
		}
		if other, exists := seen[path]; exists {
			return fmt.Errorf("%s duplicates %s (%q)", key, other, path)
		}
		seen[path] = key
	}
	return nil
}

// validateIndexSets checks names, prefixes, and the default marker.
func validateIndexSets(sets []IndexSetConfig) error {
	names := make(map[string]struct{}, len(sets))
	prefixes := make(map[string]string, len(sets))
	defaults := 0
	for _, set := range sets {
		if strings.TrimSpace(set.Name) == "" {
			return errors.New("index_set name is required")
		}
		if _, exists := names[set.Name]; exists {
			return fmt.Errorf("duplicate index_set %q", set.Name)
		}
		names[set.Name] = struct{}{}
		if other, exists := prefixes[set.Prefix]; exists {
			return fmt.Errorf("index_set.%s.prefix %q is already used by index_set.%s", set.Name, set.Prefix, other)
		}
		prefixes[set.Prefix] = set.Name
		if set.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("at most one index_set may set default=true")
	}
	return nil
}

// validateCondition validates shape of one condition; type-specific
// parameter validation happens when the condition is constructed.
func validateCondition(condition ConditionConfig) error {
	if strings.TrimSpace(condition.Name) == "" {
		return errors.New("name is required")
	}
	if condition.Type == "" {
		return errors.New("type is required")
	}
	if condition.Stream == "" {
		return errors.New("stream is required")
	}
	return nil
}

// validateNotifyTemplates validates channel-scoped notify templates and returns lookup by channel+name.
// Params: notify section from config snapshot.
// Returns: normalized template map by channel and template name.
func validateNotifyTemplates(notifyCfg NotifyConfig) (map[string]map[string]NamedTemplateConfig, error) {
	byChannel := make(map[string]map[string]NamedTemplateConfig)
	for _, channel := range NotifyChannelNames() {
		pathPrefix := "notify." + channel + ".name-template"
		if err := collectChannelTemplates(byChannel, channel, pathPrefix, NotifyChannelTemplates(notifyCfg, channel)); err != nil {
			return nil, err
		}
	}
	return byChannel, nil
}

// collectChannelTemplates validates one channel template list and stores normalized entries.
// Params: destination index, channel name, path prefix, and raw template list.
// Returns: validation error when one template entry is invalid.
func collectChannelTemplates(index map[string]map[string]NamedTemplateConfig, channel, pathPrefix string, templates []NamedTemplateConfig) error {
	if len(templates) == 0 {
		return nil
	}
	byName := make(map[string]NamedTemplateConfig, len(templates))
	for i, templateConfig := range templates {
		name := strings.TrimSpace(templateConfig.Name)
		if name == "" {
			return fmt.Errorf("%s[%d].name is required", pathPrefix, i)
		}
		nameKey := strings.ToLower(name)
		if _, exists := byName[nameKey]; exists {
			return fmt.Errorf("duplicate %s name %q", pathPrefix, name)
		}
		if err := validateMessageTemplate(fmt.Sprintf("%s[%d].message", pathPrefix, i), templateConfig.Message); err != nil {
			return err
		}
		templateConfig.Name = name
		byName[nameKey] = templateConfig
	}
	index[channel] = byName
	return nil
}

// validateRoutes validates condition-level channel/template bindings.
// Params: global notify config, one condition, and template lookup.
// Returns: validation error on unknown template, unsupported or disabled channel.
func validateRoutes(notifyCfg NotifyConfig, condition ConditionConfig, templates map[string]map[string]NamedTemplateConfig) error {
	usedRouteKeys := make(map[string]struct{}, len(condition.Route))
	for index, route := range condition.Route {
		channel := NormalizeNotifyChannel(route.Channel)
		if !IsSupportedNotifyChannel(channel) {
			return fmt.Errorf("route[%d].channel has unsupported value %q", index, route.Channel)
		}
		if !NotifyChannelEnabled(notifyCfg, channel) {
			return fmt.Errorf("route[%d].channel %q is disabled in [notify.%s]", index, route.Channel, channel)
		}
		routeKey := strings.ToLower(strings.TrimSpace(route.Name))
		if routeKey == "" {
			routeKey = channel
		}
		if _, exists := usedRouteKeys[routeKey]; exists {
			return fmt.Errorf("route has duplicate key %q", routeKey)
		}
		usedRouteKeys[routeKey] = struct{}{}

		templateName := strings.TrimSpace(route.Template)
		if templateName == "" {
			return fmt.Errorf("route[%d].template is required", index)
		}
		if _, exists := templates[channel][strings.ToLower(templateName)]; !exists {
			return fmt.Errorf("route[%d].template %q is not defined in [[notify.%s.name-template]]", index, route.Template, channel)
		}
	}
	return nil
}

// NormalizeNotifyChannel canonicalizes notify channel keys.
// Params: raw channel name from config.
// Returns: normalized lowercase channel key.
func NormalizeNotifyChannel(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// NormalizeServiceMode canonicalizes service mode and applies default.
// Params: raw mode value from config.
// Returns: normalized mode (`single` by default).
func NormalizeServiceMode(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ServiceModeSingle
	}
	return normalized
}

// IsSupportedServiceMode reports whether mode value is supported.
// Params: normalized mode value.
// Returns: true for known modes.
func IsSupportedServiceMode(mode string) bool {
	switch NormalizeServiceMode(mode) {
	case ServiceModeNATS, ServiceModeSingle:
		return true
	default:
		return false
	}
}

// NotifyChannelNames returns deterministic list of supported channel keys.
// Params: none.
// Returns: ordered channel key list.
func NotifyChannelNames() []string {
	out := make([]string, len(notifyChannelOrder))
	copy(out, notifyChannelOrder)
	return out
}

// IsSupportedNotifyChannel reports whether channel key is supported.
func IsSupportedNotifyChannel(channel string) bool {
	_, exists := notifyChannelRegistry[NormalizeNotifyChannel(channel)]
	return exists
}

// NotifyChannelEnabled checks if channel transport is enabled globally.
// Params: global notify config and normalized channel key.
// Returns: true when corresponding transport section is enabled.
func NotifyChannelEnabled(cfg NotifyConfig, channel string) bool {
	descriptor, ok := notifyChannelRegistry[NormalizeNotifyChannel(channel)]
	if !ok {
		return false
	}
	return descriptor.enabled(cfg)
}

// NotifyChannelRetry returns retry policy for one channel.
// Params: global notify config and channel key.
// Returns: retry policy for channel transport.
func NotifyChannelRetry(cfg NotifyConfig, channel string) NotifyRetry {
	descriptor, ok := notifyChannelRegistry[NormalizeNotifyChannel(channel)]
	if !ok {
		return NotifyRetry{}
	}
	return descriptor.retry(cfg)
}

// NotifyChannelTemplates returns template catalog for one channel.
// Params: global notify config and channel key.
// Returns: channel template list copy.
func NotifyChannelTemplates(cfg NotifyConfig, channel string) []NamedTemplateConfig {
	descriptor, ok := notifyChannelRegistry[NormalizeNotifyChannel(channel)]
	if !ok {
		return nil
	}
	return append([]NamedTemplateConfig(nil), descriptor.templates(cfg)...)
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// validateMessageTemplate parses one text template and checks it is non-empty.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseNotificationTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
