package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/logging"
	"logalert/internal/permanent"
	"logalert/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// SendResult returns channel-specific metadata after successful delivery.
// Params: sender-specific metadata fields.
// Returns: optional message identifier and attempt count.
type SendResult struct {
	MessageID int
	Attempts  int
}

// compiledTemplate holds parsed template with channel binding.
type compiledTemplate struct {
	channel string
	body    *template.Template
}

// ChannelSender sends one outbound notification to one channel.
// Params: context and rendered notification payload.
// Returns: channel send metadata and transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, notification domain.Notification) (SendResult, error)
}

// Dispatcher delivers triggered verdicts with configured retries, backoff, and rate limit.
// Params: sender map, per-channel retry policy, compiled templates, and limiter.
// Returns: send helper for manager layer.
type Dispatcher struct {
	senders      map[string]ChannelSender
	channels     []string
	retries      map[string]config.NotifyRetry
	logger       *slog.Logger
	templates    map[string]compiledTemplate
	templateErrs map[string]error
	limiter      *rate.Limiter
}

// NewDispatcher builds notification dispatcher from enabled channels.
// Params: global notify config and optional logger.
// Returns: configured dispatcher with available senders.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	senders := make(map[string]ChannelSender)
	retries := make(map[string]config.NotifyRetry)
	for _, channel := range config.NotifyChannelNames() {
		if !config.NotifyChannelEnabled(cfg, channel) {
			continue
		}
		sender := newSenderForChannel(channel, cfg)
		if sender == nil {
			continue
		}
		senders[channel] = sender
		retries[channel] = config.NotifyChannelRetry(cfg, channel)
	}
	compiledTemplates, templateErrs := buildTemplateSet(cfg)
	dispatcher := newDispatcher(senders, retries, compiledTemplates, logger)
	dispatcher.templateErrs = templateErrs
	dispatcher.limiter = newLimiter(cfg.RateLimitPerSec, cfg.RateBurst)
	return dispatcher
}

// newDispatcher wires prepared senders and templates.
// Params: sender map, retry map, templates, and logger.
// Returns: dispatcher without rate limit.
func newDispatcher(senders map[string]ChannelSender, retries map[string]config.NotifyRetry, templates map[string]compiledTemplate, logger *slog.Logger) *Dispatcher {
	channels := make([]string, 0, len(senders))
	for channel := range senders {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return &Dispatcher{
		senders:   senders,
		channels:  channels,
		retries:   retries,
		logger:    logging.Default(logger).With("component", "notify"),
		templates: templates,
	}
}

// newLimiter builds token bucket for outbound sends.
// Params: sustained rate per second and burst size.
// Returns: limiter or nil when rate is unlimited.
func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// newSenderForChannel builds transport sender implementation for one channel key.
// Params: normalized channel key and full notify config.
// Returns: channel sender or nil when channel is unknown.
func newSenderForChannel(channel string, cfg config.NotifyConfig) ChannelSender {
	switch channel {
	case config.NotifyChannelTelegram:
		return NewTelegramSender(cfg.Telegram)
	case config.NotifyChannelHTTP:
		return NewHTTPSender(cfg.HTTP)
	default:
		return nil
	}
}

// Send renders and delivers one notification to channel/template with retry policy.
// Params: destination channel, template name, and notification payload.
// Returns: channel metadata and final error after retries.
func (d *Dispatcher) Send(ctx context.Context, channel, templateName string, notification domain.Notification) (SendResult, error) {
	channel = config.NormalizeNotifyChannel(channel)
	sender, ok := d.senders[channel]
	if !ok {
		return SendResult{}, fmt.Errorf("notify channel %q is not configured", channel)
	}
	compiled, err := d.resolveTemplate(templateName, channel)
	if err != nil {
		return SendResult{}, err
	}

	rendered := notification
	rendered.Channel = channel
	rendered.Template = templateName
	message, err := templatefmt.Render(compiled.body, rendered)
	if err != nil {
		return SendResult{}, permanent.Mark(err)
	}
	rendered.Message = message

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return SendResult{}, fmt.Errorf("notify rate limit wait: %w", err)
		}
	}
	return d.sendWithRetry(ctx, sender, rendered, d.retries[channel])
}

// sendWithRetry sends one notification with channel-specific retry policy.
// Params: sender, payload, and retry policy for the sender channel.
// Returns: channel metadata and final error after retries; permanent errors stop immediately.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, notification domain.Notification, retry config.NotifyRetry) (SendResult, error) {
	if !retry.Enabled {
		result, err := sender.Send(ctx, notification)
		result.Attempts = 1
		return result, err
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		attempt++
		result, err := sender.Send(ctx, notification)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			result.Attempts = attempt
			return result, nil
		}
		if retry.LogEachAttempt {
			d.logger.Warn("notify send attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return SendResult{Attempts: attempt}, fmt.Errorf("channel %s rejected notification: %w", sender.Channel(), err)
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return SendResult{Attempts: attempt}, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return SendResult{Attempts: attempt}, ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Channels returns configured channel list.
func (d *Dispatcher) Channels() []string {
	return append([]string(nil), d.channels...)
}

// resolveTemplate selects compiled template by name and validates channel binding.
// Params: template name from condition route and destination channel.
// Returns: compiled template for rendering.
func (d *Dispatcher) resolveTemplate(templateName, channel string) (compiledTemplate, error) {
	name := strings.ToLower(strings.TrimSpace(templateName))
	if name == "" {
		return compiledTemplate{}, errors.New("notify template name is required")
	}
	key := templateKey(channel, name)
	if err, ok := d.templateErrs[key]; ok && err != nil {
		return compiledTemplate{}, fmt.Errorf("notify template %q is invalid: %w", templateName, err)
	}
	compiled, ok := d.templates[key]
	if !ok || compiled.body == nil {
		return compiledTemplate{}, fmt.Errorf("notify template %q is not configured", templateName)
	}
	return compiled, nil
}

// buildTemplateSet compiles named templates from channel-scoped notify config.
// Params: notify config snapshot.
// Returns: compiled template lookup and parse errors by template key.
func buildTemplateSet(cfg config.NotifyConfig) (map[string]compiledTemplate, map[string]error) {
	compiled := make(map[string]compiledTemplate)
	parseErrs := make(map[string]error)
	for _, channel := range config.NotifyChannelNames() {
		for _, templateConfig := range config.NotifyChannelTemplates(cfg, channel) {
			name := strings.ToLower(strings.TrimSpace(templateConfig.Name))
			if name == "" {
				continue
			}
			key := templateKey(channel, name)
			body, err := templatefmt.ParseNotificationTemplate("notify."+channel+".name-template."+name+".message", templateConfig.Message)
			if err != nil {
				parseErrs[key] = err
				continue
			}
			compiled[key] = compiledTemplate{channel: channel, body: body}
		}
	}
	return compiled, parseErrs
}

// templateKey builds deterministic template lookup key by channel+template.
func templateKey(channel, name string) string {
	return strings.ToLower(strings.TrimSpace(channel)) + "/" + strings.ToLower(strings.TrimSpace(name))
}

// TelegramSender sends notifications to Telegram Bot API.
// Params: bot client and chat id.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates Telegram sender.
// Params: Telegram notifier config.
// Returns: sender; init errors surface on first Send.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{chatID: normalizeChatID(cfg.ChatID)}
	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram bot token is required"))
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = permanent.Mark(errors.New("telegram chat_id is required"))
		return sender
	}

	botClient, err := tgbot.New(cfg.BotToken,
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	)
	if err != nil {
		sender.initErr = permanent.Mark(fmt.Errorf("init telegram bot: %w", err))
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
func (s *TelegramSender) Channel() string {
	return config.NotifyChannelTelegram
}

// Send posts one plain-text message to Telegram chat.
// Params: context and rendered notification.
// Returns: message id or transport error; client-side API errors are permanent.
func (s *TelegramSender) Send(ctx context.Context, notification domain.Notification) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: s.chatID,
		Text:   notification.Message,
	})
	if err != nil {
		if isPermanentTelegramError(err) {
			return SendResult{}, permanent.Mark(fmt.Errorf("telegram send: %w", err))
		}
		return SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("telegram send returned empty message id")
	}
	return SendResult{MessageID: sent.ID}, nil
}

func isPermanentTelegramError(err error) bool {
	return errors.Is(err, tgbot.ErrorBadRequest) ||
		errors.Is(err, tgbot.ErrorForbidden) ||
		errors.Is(err, tgbot.ErrorUnauthorized) ||
		errors.Is(err, tgbot.ErrorNotFound)
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// HTTPSender posts notification JSON to configured webhook endpoint.
// Params: endpoint URL, method, timeout, and headers.
// Returns: generic HTTP sender.
type HTTPSender struct {
	cfg    config.HTTPNotifier
	client *http.Client
}

// NewHTTPSender creates generic HTTP sender.
// Params: HTTP notifier config.
// Returns: initialized sender.
func NewHTTPSender(cfg config.HTTPNotifier) *HTTPSender {
	return &HTTPSender{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Channel returns sender channel name.
func (s *HTTPSender) Channel() string {
	return config.NotifyChannelHTTP
}

// Send delivers JSON payload to configured HTTP endpoint.
// Params: context and rendered notification.
// Returns: transport or status error; 4xx other than 408/429 is permanent.
func (s *HTTPSender) Send(ctx context.Context, notification domain.Notification) (SendResult, error) {
	body, err := json.Marshal(notification)
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("encode http notify payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, permanent.Mark(fmt.Errorf("build http notify request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return SendResult{}, fmt.Errorf("http notify send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := unexpectedHTTPStatusError("http notify", response)
		if permanent.IsClientStatus(response.StatusCode) {
			return SendResult{}, permanent.MarkStatus(statusErr, response.StatusCode)
		}
		return SendResult{}, statusErr
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return SendResult{}, nil
}

// unexpectedHTTPStatusError formats non-2xx response with bounded body excerpt.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
