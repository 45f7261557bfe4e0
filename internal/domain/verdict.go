package domain

import "time"

// Outcome is the verdict variant of one condition check.
// Params: triggered/not_triggered/failed constants.
// Returns: exactly one outcome per check invocation.
type Outcome string

const (
	// OutcomeTriggered indicates condition matched and carries evidence.
	OutcomeTriggered Outcome = "triggered"
	// OutcomeNotTriggered indicates condition evaluated without match.
	OutcomeNotTriggered Outcome = "not_triggered"
	// OutcomeFailed indicates evaluation could not complete.
	OutcomeFailed Outcome = "failed"
)

// ConditionRef is an identity snapshot of the originating condition.
// Params: condition id, type, stream, grace/backlog knobs, and description.
// Returns: value copied into every verdict.
type ConditionRef struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title,omitempty"`
	StreamID     string    `json:"stream_id"`
	StreamTitle  string    `json:"stream_title,omitempty"`
	Description  string    `json:"description"`
	GraceMinutes int       `json:"grace_minutes"`
	Backlog      int       `json:"backlog,omitempty"`
	CreatorID    string    `json:"creator_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

// CheckResult is one condition verdict.
// Params: outcome variant, originating condition, and variant payload.
// Returns: verdict consumed by driver, notifier, and publisher.
type CheckResult struct {
	Outcome     Outcome          `json:"outcome"`
	Condition   ConditionRef     `json:"condition"`
	Description string           `json:"description,omitempty"`
	TriggeredAt time.Time        `json:"triggered_at,omitzero"`
	Summaries   []MessageSummary `json:"summaries"`
	Error       string           `json:"error,omitempty"`
}

// Triggered builds positive verdict with ordered evidence.
// Params: condition ref, human-readable description, trigger time, and evidence.
// Returns: triggered verdict with non-nil evidence slice.
func Triggered(condition ConditionRef, description string, at time.Time, summaries []MessageSummary) CheckResult {
	if summaries == nil {
		summaries = []MessageSummary{}
	}
	return CheckResult{
		Outcome:     OutcomeTriggered,
		Condition:   condition,
		Description: description,
		TriggeredAt: at.UTC(),
		Summaries:   summaries,
	}
}

// NotTriggered builds negative verdict.
// Params: condition ref.
// Returns: verdict carrying only condition reference.
func NotTriggered(condition ConditionRef) CheckResult {
	return CheckResult{
		Outcome:   OutcomeNotTriggered,
		Condition: condition,
		Summaries: []MessageSummary{},
	}
}

// Failed builds evaluation-error verdict.
// Params: condition ref and failure cause.
// Returns: verdict that never notifies.
func Failed(condition ConditionRef, err error) CheckResult {
	text := "evaluation failed"
	if err != nil {
		text = err.Error()
	}
	return CheckResult{
		Outcome:   OutcomeFailed,
		Condition: condition,
		Summaries: []MessageSummary{},
		Error:     text,
	}
}

// IsTriggered reports positive verdict.
func (r CheckResult) IsTriggered() bool {
	return r.Outcome == OutcomeTriggered
}

// IsFailed reports evaluation-error verdict.
func (r CheckResult) IsFailed() bool {
	return r.Outcome == OutcomeFailed
}

// ConditionState stores driver-owned evaluation history of one condition.
// Params: last check/trigger timestamps, last outcome, and failure streak.
// Returns: persisted record used for grace handling.
type ConditionState struct {
	ConditionID         string     `json:"condition_id"`
	LastCheckedAt       time.Time  `json:"last_checked_at"`
	LastOutcome         Outcome    `json:"last_outcome"`
	LastTriggeredAt     *time.Time `json:"last_triggered_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}

// InGrace reports whether trigger cool-down is still active.
// Params: grace window and current time.
// Returns: true when last trigger happened inside the window.
func (s ConditionState) InGrace(grace time.Duration, now time.Time) bool {
	if grace <= 0 || s.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*s.LastTriggeredAt) < grace
}

// Notification contains outbound channel payload for one triggered verdict.
// Params: route metadata, condition identity, rendered message, and evidence.
// Returns: one notification request for notifier layer.
type Notification struct {
	Channel        string           `json:"channel"`
	Template       string           `json:"template,omitempty"`
	ConditionID    string           `json:"condition_id"`
	ConditionType  string           `json:"condition_type"`
	ConditionTitle string           `json:"condition_title,omitempty"`
	StreamID       string           `json:"stream_id"`
	StreamTitle    string           `json:"stream_title,omitempty"`
	Description    string           `json:"description"`
	GraceMinutes   int              `json:"grace_minutes"`
	Message        string           `json:"message"`
	Summaries      []MessageSummary `json:"summaries"`
	TriggeredAt    time.Time        `json:"triggered_at"`
}

// NewNotification projects triggered verdict into notification payload.
// Params: verdict and destination channel/template.
// Returns: notification with empty message awaiting template render.
func NewNotification(result CheckResult, channel, templateName string) Notification {
	return Notification{
		Channel:        channel,
		Template:       templateName,
		ConditionID:    result.Condition.ID,
		ConditionType:  result.Condition.Type,
		ConditionTitle: result.Condition.Title,
		StreamID:       result.Condition.StreamID,
		StreamTitle:    result.Condition.StreamTitle,
		Description:    result.Description,
		GraceMinutes:   result.Condition.GraceMinutes,
		Summaries:      result.Summaries,
		TriggeredAt:    result.TriggeredAt,
	}
}
