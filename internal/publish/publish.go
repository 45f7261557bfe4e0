package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"logalert/internal/domain"
	"logalert/internal/natsconn"
)

// Envelope is one published verdict record.
// Params: deterministic id, publish time, originating service, and verdict.
// Returns: JSON body stored in verdict stream.
type Envelope struct {
	ID          string             `json:"id"`
	Service     string             `json:"service,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
	Result      domain.CheckResult `json:"result"`
}

// BuildEnvelopeID creates deterministic id for one verdict.
// Params: verdict payload.
// Returns: stable SHA1-based id used for JetStream de-duplication.
func BuildEnvelopeID(result domain.CheckResult) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%d|%s",
		result.Condition.ID,
		result.Condition.StreamID,
		result.Outcome,
		result.TriggeredAt.UnixNano(),
		result.Description,
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewEnvelope wraps verdict for publishing.
// Params: service name, verdict, and publish time.
// Returns: envelope with deterministic id.
func NewEnvelope(service string, result domain.CheckResult, at time.Time) Envelope {
	return Envelope{
		ID:          BuildEnvelopeID(result),
		Service:     strings.TrimSpace(service),
		PublishedAt: at.UTC(),
		Result:      result,
	}
}

// Subject returns per-condition verdict subject.
// Params: subject prefix and condition id.
// Returns: `<prefix>.<token>` subject.
func Subject(prefix, conditionID string) string {
	return strings.TrimSuffix(prefix, ".") + "." + natsconn.SubjectToken(conditionID)
}

// Producer publishes verdicts to downstream consumers.
// Params: context and verdict.
// Returns: publish error.
type Producer interface {
	Publish(ctx context.Context, result domain.CheckResult) error
	Close() error
}

// Nop discards every verdict.
type Nop struct{}

// Publish implements Producer.
func (Nop) Publish(context.Context, domain.CheckResult) error { return nil }

// Close implements Producer.
func (Nop) Close() error { return nil }
