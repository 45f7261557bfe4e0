package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"logalert/internal/alert"
	"logalert/internal/clock"
	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/logging"
	"logalert/internal/metrics"
	"logalert/internal/notify"
	"logalert/internal/publish"
	"logalert/internal/state"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownCondition reports evaluation of a condition id absent from manager.
var ErrUnknownCondition = errors.New("unknown condition")

const (
	// SkipOverlap marks invocation skipped because previous check is still running.
	SkipOverlap = "overlap"
	// SkipGrace marks invocation skipped because last trigger is inside grace window.
	SkipGrace = "grace"

	defaultConcurrentChecks = 8
)

// Notifier delivers one rendered notification to one channel.
// Params: context, channel, template name, and notification payload.
// Returns: channel send result or delivery error.
type Notifier interface {
	Send(ctx context.Context, channel, templateName string, notification domain.Notification) (notify.SendResult, error)
}

// Entry binds one condition with its notification routes.
type Entry struct {
	Condition alert.Condition
	Routes    []config.RouteConfig
}

// Evaluation reports what one driver invocation did.
// Params: verdict (zero when skipped), skip reason, delivered notification count, and check latency.
// Returns: per-invocation driver report.
type Evaluation struct {
	ConditionID string
	Result      domain.CheckResult
	Skipped     string
	Notified    int
	Duration    time.Duration
}

// ManagerOptions wires Manager collaborators.
type ManagerOptions struct {
	Logger        *slog.Logger
	Store         state.Store
	Notifier      Notifier
	Producer      publish.Producer
	Clock         clock.Clock
	CheckTimeout  time.Duration
	MaxConcurrent int
}

type managedCondition struct {
	condition alert.Condition
	routes    []config.RouteConfig
	running   *sync.Mutex
}

// Manager drives condition checks with per-condition isolation.
// Params: condition entries, state store, notifier, and verdict producer.
// Returns: evaluation driver used by scheduler and HTTP surface.
type Manager struct {
	mu            sync.RWMutex
	conditions    map[string]*managedCondition
	sorted        []string
	logger        *slog.Logger
	store         state.Store
	notifier      Notifier
	producer      publish.Producer
	clock         clock.Clock
	checkTimeout  time.Duration
	maxConcurrent int
}

// NewManager creates manager without conditions.
// Params: collaborators; nil notifier/producer disable delivery, nil store uses memory state.
// Returns: initialized manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Store == nil {
		opts.Store = state.NewMemoryStore()
	}
	if opts.Producer == nil {
		opts.Producer = publish.Nop{}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultConcurrentChecks
	}
	return &Manager{
		conditions:    make(map[string]*managedCondition),
		logger:        logging.Default(opts.Logger).With("component", "manager"),
		store:         opts.Store,
		notifier:      opts.Notifier,
		producer:      opts.Producer,
		clock:         opts.Clock,
		checkTimeout:  opts.CheckTimeout,
		maxConcurrent: opts.MaxConcurrent,
	}
}

// ApplyConditions atomically replaces active conditions and clears state of removed ones.
// Params: context for state cleanup and new condition entries.
// Returns: ids removed by this call.
func (m *Manager) ApplyConditions(ctx context.Context, entries []Entry) []string {
	next := make(map[string]*managedCondition, len(entries))
	sorted := make([]string, 0, len(entries))

	m.mu.Lock()
	for _, entry := range entries {
		id := entry.Condition.ID()
		running := &sync.Mutex{}
		if previous, ok := m.conditions[id]; ok {
			running = previous.running
		}
		next[id] = &managedCondition{
			condition: entry.Condition,
			routes:    append([]config.RouteConfig(nil), entry.Routes...),
			running:   running,
		}
		sorted = append(sorted, id)
	}
	removed := make([]string, 0)
	for id := range m.conditions {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(sorted)
	sort.Strings(removed)
	m.conditions = next
	m.sorted = sorted
	m.mu.Unlock()

	metrics.ConditionsLoaded.Set(float64(len(sorted)))
	for _, id := range removed {
		if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, state.ErrNotFound) {
			m.logger.Warn("removed condition state cleanup failed", "condition_id", id, "error", err.Error())
		}
	}
	return removed
}

// SetNotifier replaces runtime notifier.
// Params: notifier built from active notify config.
// Returns: notifier reference swapped under lock.
func (m *Manager) SetNotifier(notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = notifier
}

// ConditionIDs returns active condition ids sorted.
func (m *Manager) ConditionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sorted...)
}

// Condition returns active condition by id.
func (m *Manager) Condition(id string) (alert.Condition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.conditions[id]
	if !ok {
		return nil, false
	}
	return managed.condition, true
}

// Evaluate runs one driver invocation for one condition.
// Params: context and condition id.
// Returns: evaluation report or ErrUnknownCondition.
func (m *Manager) Evaluate(ctx context.Context, conditionID string) (Evaluation, error) {
	m.mu.RLock()
	managed, ok := m.conditions[conditionID]
	notifier := m.notifier
	m.mu.RUnlock()
	if !ok {
		return Evaluation{}, fmt.Errorf("%w %q", ErrUnknownCondition, conditionID)
	}

	condition := managed.condition
	evaluation := Evaluation{ConditionID: conditionID}
	if !managed.running.TryLock() {
		metrics.ChecksSkipped.WithLabelValues(SkipOverlap).Inc()
		m.logger.Warn("check skipped, previous run still active", "condition_id", conditionID)
		evaluation.Skipped = SkipOverlap
		return evaluation, nil
	}
	defer managed.running.Unlock()

	now := m.clock.Now()
	current, _, err := m.store.Get(ctx, conditionID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		m.logger.Warn("condition state read failed", "condition_id", conditionID, "error", err.Error())
	}
	if current.InGrace(condition.Grace(), now) {
		metrics.ChecksSkipped.WithLabelValues(SkipGrace).Inc()
		m.logger.Debug("check skipped inside grace period", "condition_id", conditionID, "last_triggered_at", current.LastTriggeredAt.Format(time.RFC3339))
		evaluation.Skipped = SkipGrace
		return evaluation, nil
	}

	started := time.Now()
	result := m.runCheck(ctx, condition)
	evaluation.Duration = time.Since(started)
	evaluation.Result = result

	metrics.ChecksTotal.WithLabelValues(condition.Type(), string(result.Outcome)).Inc()
	metrics.CheckDuration.WithLabelValues(condition.Type()).Observe(evaluation.Duration.Seconds())
	m.logVerdict(result, evaluation.Duration)

	if _, err := state.Mutate(ctx, m.store, conditionID, func(record domain.ConditionState) domain.ConditionState {
		return applyOutcome(record, conditionID, result, now)
	}); err != nil {
		m.logger.Error("condition state update failed", "condition_id", conditionID, "error", err.Error())
	}

	if !result.IsTriggered() {
		return evaluation, nil
	}
	evaluation.Notified = m.notifyRoutes(ctx, notifier, managed.routes, result)
	if err := m.producer.Publish(ctx, result); err != nil {
		metrics.VerdictsPublished.WithLabelValues("failed").Inc()
		m.logger.Error("verdict publish failed", "condition_id", conditionID, "error", err.Error())
	} else {
		metrics.VerdictsPublished.WithLabelValues("published").Inc()
	}
	return evaluation, nil
}

// EvaluateAll runs every active condition concurrently with bounded parallelism.
// Params: context canceling unstarted checks.
// Returns: evaluations in condition id order and context error.
func (m *Manager) EvaluateAll(ctx context.Context) ([]Evaluation, error) {
	ids := m.ConditionIDs()
	results := make([]Evaluation, len(ids))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.maxConcurrent)
	for i, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			evaluation, err := m.Evaluate(groupCtx, id)
			if err != nil {
				if errors.Is(err, ErrUnknownCondition) {
					evaluation = Evaluation{ConditionID: id, Skipped: "removed"}
				} else {
					return err
				}
			}
			results[i] = evaluation
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// runCheck executes Check under timeout and converts panics into Failed verdicts.
// Params: context and condition.
// Returns: exactly one verdict.
func (m *Manager) runCheck(ctx context.Context, condition alert.Condition) (result domain.CheckResult) {
	checkCtx := ctx
	if m.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, m.checkTimeout)
		defer cancel()
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			result = domain.Failed(condition.Ref(), fmt.Errorf("check panicked: %v", recovered))
		}
	}()
	result = condition.Check(checkCtx)
	if result.Outcome == "" {
		result = domain.Failed(condition.Ref(), errors.New("check returned no verdict"))
	}
	return result
}

// notifyRoutes delivers triggered verdict to every configured route.
// Params: context, notifier snapshot, routes, and verdict.
// Returns: number of successful deliveries; failures are logged only.
func (m *Manager) notifyRoutes(ctx context.Context, notifier Notifier, routes []config.RouteConfig, result domain.CheckResult) int {
	if notifier == nil || len(routes) == 0 {
		return 0
	}
	delivered := 0
	for _, route := range routes {
		channel := config.NormalizeNotifyChannel(route.Channel)
		notification := domain.NewNotification(result, channel, route.Template)
		sendResult, err := notifier.Send(ctx, channel, route.Template, notification)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
			m.logger.Error("notification failed", "condition_id", result.Condition.ID, "channel", channel, "route", route.Name, "error", err.Error())
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
		m.logger.Info("notification sent", "condition_id", result.Condition.ID, "channel", channel, "attempts", sendResult.Attempts)
		delivered++
	}
	return delivered
}

func (m *Manager) logVerdict(result domain.CheckResult, took time.Duration) {
	attrs := []any{
		"condition_id", result.Condition.ID,
		"type", result.Condition.Type,
		"stream", result.Condition.StreamID,
		"outcome", string(result.Outcome),
		"duration", took.String(),
	}
	switch result.Outcome {
	case domain.OutcomeTriggered:
		m.logger.Info("condition triggered", append(attrs, "description", result.Description, "evidence", len(result.Summaries))...)
	case domain.OutcomeFailed:
		m.logger.Error("condition check failed", append(attrs, "error", result.Error)...)
	default:
		m.logger.Debug("condition not triggered", attrs...)
	}
}

// applyOutcome folds one verdict into persisted condition state.
// Params: previous state, id, verdict, and check time.
// Returns: next state.
func applyOutcome(record domain.ConditionState, conditionID string, result domain.CheckResult, now time.Time) domain.ConditionState {
	record.ConditionID = conditionID
	record.LastCheckedAt = now.UTC()
	record.LastOutcome = result.Outcome
	switch result.Outcome {
	case domain.OutcomeTriggered:
		triggeredAt := result.TriggeredAt
		if triggeredAt.IsZero() {
			triggeredAt = now.UTC()
		}
		record.LastTriggeredAt = &triggeredAt
		record.ConsecutiveFailures = 0
		record.LastError = ""
	case domain.OutcomeFailed:
		record.ConsecutiveFailures++
		record.LastError = result.Error
	default:
		record.ConsecutiveFailures = 0
		record.LastError = ""
	}
	return record
}
