// Package alert implements alert conditions: typed, parameterized checks that
// query a search backend and turn the outcome into a verdict.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"logalert/internal/clock"
	"logalert/internal/domain"
	"logalert/internal/logging"
	"logalert/internal/search"
)

const (
	// ParamGrace is the grace period in minutes.
	ParamGrace = "grace"
	// ParamBacklog is the requested evidence count.
	ParamBacklog = "backlog"
)

// ErrCheckInterval reports a missing or non-positive check interval in Deps.
var ErrCheckInterval = errors.New("check interval must be positive")

// ValidationError reports malformed condition parameters.
type ValidationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid condition parameter %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s condition parameter %q: %s", e.Type, e.Field, e.Reason)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Stream references the stream owning one condition.
type Stream struct {
	ID    string
	Title string
}

// Spec is the persisted form of one condition.
// Params: identity, owning stream, type tag, and open parameter map.
// Returns: factory input.
type Spec struct {
	ID            string
	Type          string
	Title         string
	Stream        Stream
	CreatorUserID string
	CreatedAt     time.Time
	Parameters    map[string]any
}

// Deps are process-wide collaborators handed to every condition.
// Params: search backend, global check interval, clock, and logger.
// Returns: read-only dependencies.
type Deps struct {
	Searcher      search.Backend
	CheckInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Condition is one evaluable alert condition.
// Params: none.
// Returns: immutable identity and a self-contained Check.
type Condition interface {
	ID() string
	Type() string
	Title() string
	Stream() Stream
	Grace() time.Duration
	Backlog() int
	Parameters() map[string]any
	Description() string
	Ref() domain.ConditionRef
	Check(ctx context.Context) domain.CheckResult
}

// Base holds identity and grace/backlog knobs shared by all variants.
type Base struct {
	id            string
	typ           string
	title         string
	stream        Stream
	creatorUserID string
	createdAt     time.Time
	graceMinutes  int
	backlog       int
	parameters    map[string]any

	searcher search.Backend
	clock    clock.Clock
	logger   *slog.Logger
}

// NewBase validates shared fields of spec.
// Params: persisted spec and process deps.
// Returns: base or *ValidationError.
func NewBase(spec Spec, deps Deps) (Base, error) {
	if strings.TrimSpace(spec.Stream.ID) == "" {
		return Base{}, &ValidationError{Type: spec.Type, Field: "stream", Reason: "stream id is required"}
	}
	if deps.Searcher == nil {
		return Base{}, errors.New("condition requires search backend")
	}
	grace, _, err := IntParam(spec.Parameters, ParamGrace)
	if err != nil {
		return Base{}, &ValidationError{Type: spec.Type, Field: ParamGrace, Reason: err.Error()}
	}
	if grace < 0 {
		return Base{}, &ValidationError{Type: spec.Type, Field: ParamGrace, Reason: "must be >= 0"}
	}
	backlog, _, err := IntParam(spec.Parameters, ParamBacklog)
	if err != nil {
		return Base{}, &ValidationError{Type: spec.Type, Field: ParamBacklog, Reason: err.Error()}
	}
	if backlog < 0 {
		return Base{}, &ValidationError{Type: spec.Type, Field: ParamBacklog, Reason: "must be >= 0"}
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	params := make(map[string]any, len(spec.Parameters))
	for key, value := range spec.Parameters {
		params[key] = value
	}
	return Base{
		id:            spec.ID,
		typ:           spec.Type,
		title:         spec.Title,
		stream:        spec.Stream,
		creatorUserID: spec.CreatorUserID,
		createdAt:     spec.CreatedAt,
		graceMinutes:  grace,
		backlog:       backlog,
		parameters:    params,
		searcher:      deps.Searcher,
		clock:         clk,
		logger: logging.Default(deps.Logger).With(
			"component", "alert-condition",
			"condition_id", spec.ID,
			"condition_type", spec.Type,
		),
	}, nil
}

// ID returns condition id.
func (b *Base) ID() string { return b.id }

// Type returns condition type tag.
func (b *Base) Type() string { return b.typ }

// Title returns optional condition title.
func (b *Base) Title() string { return b.title }

// Stream returns owning stream.
func (b *Base) Stream() Stream { return b.stream }

// Grace returns trigger cool-down window.
func (b *Base) Grace() time.Duration { return time.Duration(b.graceMinutes) * time.Minute }

// GraceMinutes returns grace in the unit it was configured in.
func (b *Base) GraceMinutes() int { return b.graceMinutes }

// Backlog returns requested evidence count; zero means existence only.
func (b *Base) Backlog() int { return b.backlog }

// Parameters returns a copy of the raw parameter map.
func (b *Base) Parameters() map[string]any {
	out := make(map[string]any, len(b.parameters))
	for key, value := range b.parameters {
		out[key] = value
	}
	return out
}

// ref builds verdict identity with variant description.
func (b *Base) ref(description string) domain.ConditionRef {
	return domain.ConditionRef{
		ID:           b.id,
		Type:         b.typ,
		Title:        b.title,
		StreamID:     b.stream.ID,
		StreamTitle:  b.stream.Title,
		Description:  description,
		GraceMinutes: b.graceMinutes,
		Backlog:      b.backlog,
		CreatorID:    b.creatorUserID,
		CreatedAt:    b.createdAt,
	}
}

// summaries converts returned records into evidence when backlog was requested.
// Params: backend records.
// Returns: ordered evidence or empty slice.
func (b *Base) summaries(records []search.Record) []domain.MessageSummary {
	if b.backlog <= 0 {
		return []domain.MessageSummary{}
	}
	out := make([]domain.MessageSummary, 0, min(len(records), b.backlog))
	for _, record := range records {
		if len(out) == b.backlog {
			break
		}
		out = append(out, domain.NewMessageSummary(record.Index, record.Message))
	}
	return out
}

// failed logs evaluation failure and builds the Failed verdict.
func (b *Base) failed(ref domain.ConditionRef, query string, err error) domain.CheckResult {
	level := slog.LevelWarn
	if errors.Is(err, search.ErrInvalidRangeParameters) || errors.Is(err, search.ErrInvalidRangeFormat) {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, "condition check failed", "query", query, "error", err.Error())
	return domain.Failed(ref, err)
}

// IntParam reads optional integer parameter.
// Params: parameter map and key.
// Returns: value, presence flag, and type error for non-integral values.
func IntParam(params map[string]any, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return intInRange(int64(v))
	case int32:
		return intInRange(int64(v))
	case int64:
		return intInRange(v)
	case uint:
		return uintInRange(uint64(v))
	case uint32:
		return uintInRange(uint64(v))
	case uint64:
		return uintInRange(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, true, fmt.Errorf("expected integer, got %v", v)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, true, fmt.Errorf("value %v out of range", v)
		}
		return int(v), true, nil
	default:
		return 0, true, fmt.Errorf("expected integer, got %T", raw)
	}
}

// intInRange accepts values representable as int32 on every platform.
func intInRange(v int64) (int, bool, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, true, fmt.Errorf("value %d out of range", v)
	}
	return int(v), true, nil
}

func uintInRange(v uint64) (int, bool, error) {
	if v > math.MaxInt32 {
		return 0, true, fmt.Errorf("value %d out of range", v)
	}
	return int(v), true, nil
}

// StringParam reads optional string parameter.
// Params: parameter map and key.
// Returns: value, presence flag, and type error for non-string values.
func StringParam(params map[string]any, key string) (string, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	value, isString := raw.(string)
	if !isString {
		return "", true, fmt.Errorf("expected string, got %T", raw)
	}
	return value, true, nil
}
