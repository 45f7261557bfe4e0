package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"logalert/internal/domain"
	"logalert/internal/search"
)

const (
	// TypeMessageCount compares stream volume in a window with a threshold.
	TypeMessageCount = "message_count"

	paramTime          = "time"
	paramThreshold     = "threshold"
	paramThresholdType = "threshold_type"
)

// ThresholdType selects comparison direction.
type ThresholdType string

const (
	ThresholdMore ThresholdType = "more"
	ThresholdLess ThresholdType = "less"
)

// MessageCount triggers when the number of stream records in the last
// time minutes is above or below threshold.
type MessageCount struct {
	Base
	minutes       int
	threshold     int
	thresholdType ThresholdType
	window        search.RelativeRange
}

// NewMessageCount validates time/threshold/threshold_type parameters.
// Params: spec with time > 0, threshold >= 0, and threshold_type more|less.
// Returns: condition or *ValidationError.
func NewMessageCount(spec Spec, deps Deps) (Condition, error) {
	base, err := NewBase(spec, deps)
	if err != nil {
		return nil, err
	}
	minutes, present, err := IntParam(spec.Parameters, paramTime)
	if err != nil {
		return nil, &ValidationError{Type: spec.Type, Field: paramTime, Reason: err.Error()}
	}
	if !present || minutes <= 0 {
		return nil, &ValidationError{Type: spec.Type, Field: paramTime, Reason: "must be a positive number of minutes"}
	}
	threshold, present, err := IntParam(spec.Parameters, paramThreshold)
	if err != nil {
		return nil, &ValidationError{Type: spec.Type, Field: paramThreshold, Reason: err.Error()}
	}
	if !present || threshold < 0 {
		return nil, &ValidationError{Type: spec.Type, Field: paramThreshold, Reason: "must be >= 0"}
	}
	rawType, err := requiredString(spec, paramThresholdType)
	if err != nil {
		return nil, err
	}
	thresholdType := ThresholdType(strings.ToLower(rawType))
	if thresholdType != ThresholdMore && thresholdType != ThresholdLess {
		return nil, &ValidationError{Type: spec.Type, Field: paramThresholdType, Reason: "must be more or less"}
	}
	return &MessageCount{
		Base:          base,
		minutes:       minutes,
		threshold:     threshold,
		thresholdType: thresholdType,
		window:        search.RelativeRange{Range: time.Duration(minutes) * time.Minute},
	}, nil
}

// Description returns short parameter summary.
func (c *MessageCount) Description() string {
	return fmt.Sprintf("time: %d, threshold_type: %s, threshold: %d, grace: %d", c.minutes, c.thresholdType, c.threshold, c.graceMinutes)
}

// Ref returns verdict identity.
func (c *MessageCount) Ref() domain.ConditionRef { return c.ref(c.Description()) }

// Request returns the search issued by Check. Without backlog it only counts.
func (c *MessageCount) Request() search.Request {
	return search.Request{
		Query:  "*",
		Filter: search.StreamFilter(c.stream.ID),
		Range:  c.window,
		Limit:  uint(c.backlog),
		Offset: 0,
		Sort:   search.TimestampDescending(),
	}
}

// Check counts stream records in the window.
// Params: context bounding backend call.
// Returns: Triggered when count crosses threshold, NotTriggered otherwise, Failed on error.
func (c *MessageCount) Check(ctx context.Context) domain.CheckResult {
	ref := c.Ref()
	req := c.Request()
	res, err := c.searcher.Search(ctx, req)
	if err != nil {
		return c.failed(ref, req.Query, err)
	}
	count := res.TotalResults
	threshold := uint64(c.threshold)
	var crossed bool
	switch c.thresholdType {
	case ThresholdMore:
		crossed = count > threshold
	case ThresholdLess:
		crossed = count < threshold
	}
	if !crossed {
		return domain.NotTriggered(ref)
	}
	description := fmt.Sprintf(
		"Stream had %d messages in the last %d minutes with trigger condition %s than %d messages. (Current grace time: %d minutes)",
		count, c.minutes, strings.ToLower(string(c.thresholdType)), c.threshold, c.graceMinutes,
	)
	return domain.Triggered(ref, description, c.clock.Now(), c.summaries(res.Records))
}
