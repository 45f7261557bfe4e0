package alert

import (
	"context"
	"fmt"
	"strings"

	"logalert/internal/domain"
	"logalert/internal/search"
)

const (
	// TypeFieldContentValue matches an exact phrase in one field.
	TypeFieldContentValue = "field_content_value"

	paramField = "field"
	paramValue = "value"
)

// FieldContentValue triggers when any stream record in the last check
// interval carries value as a phrase in field.
type FieldContentValue struct {
	Base
	field    string
	value    string
	query    string
	interval search.RelativeRange
}

// NewFieldContentValue validates field/value parameters.
// Params: spec with non-empty string field and value, deps with positive check interval.
// Returns: condition, *ValidationError, or interval error.
func NewFieldContentValue(spec Spec, deps Deps) (Condition, error) {
	base, err := NewBase(spec, deps)
	if err != nil {
		return nil, err
	}
	if deps.CheckInterval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrCheckInterval, deps.CheckInterval)
	}
	interval, err := search.NewRelativeRange(deps.CheckInterval)
	if err != nil {
		return nil, err
	}
	field, err := requiredString(spec, paramField)
	if err != nil {
		return nil, err
	}
	value, err := requiredString(spec, paramValue)
	if err != nil {
		return nil, err
	}
	return &FieldContentValue{
		Base:     base,
		field:    field,
		value:    value,
		query:    field + ":" + search.QuoteValue(value),
		interval: interval,
	}, nil
}

// Field returns matched field name.
func (c *FieldContentValue) Field() string { return c.field }

// Value returns matched phrase.
func (c *FieldContentValue) Value() string { return c.value }

// Query returns the literal backend query.
func (c *FieldContentValue) Query() string { return c.query }

// Description returns short parameter summary.
func (c *FieldContentValue) Description() string {
	return fmt.Sprintf("field: %s, value: %s", c.field, c.value)
}

// Ref returns verdict identity.
func (c *FieldContentValue) Ref() domain.ConditionRef { return c.ref(c.Description()) }

// Request returns the search issued by Check.
func (c *FieldContentValue) Request() search.Request {
	limit := uint(1)
	if c.backlog > 0 {
		limit = uint(c.backlog)
	}
	return search.Request{
		Query:  c.query,
		Filter: search.StreamFilter(c.stream.ID),
		Range:  c.interval,
		Limit:  limit,
		Offset: 0,
		Sort:   search.TimestampDescending(),
	}
}

// Check runs one bounded search.
// Params: context bounding backend call.
// Returns: Triggered when total > 0, NotTriggered when total == 0, Failed on error.
func (c *FieldContentValue) Check(ctx context.Context) domain.CheckResult {
	ref := c.Ref()
	res, err := c.searcher.Search(ctx, c.Request())
	if err != nil {
		return c.failed(ref, c.query, err)
	}
	if res.TotalResults == 0 {
		return domain.NotTriggered(ref)
	}
	description := fmt.Sprintf("Stream received messages matching <%s> (Current grace time: %d minutes)", c.query, c.graceMinutes)
	c.logger.Debug("condition triggered", "query", c.query, "total", res.TotalResults, "returned", len(res.Records))
	return domain.Triggered(ref, description, c.clock.Now(), c.summaries(res.Records))
}

func requiredString(spec Spec, key string) (string, error) {
	value, present, err := StringParam(spec.Parameters, key)
	if err != nil {
		return "", &ValidationError{Type: spec.Type, Field: key, Reason: err.Error()}
	}
	if !present || strings.TrimSpace(value) == "" {
		return "", &ValidationError{Type: spec.Type, Field: key, Reason: "must be a non-empty string"}
	}
	return value, nil
}
