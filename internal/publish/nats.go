package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/natsconn"

	"github.com/nats-io/nats.go"
)

const verdictStreamMaxAge = 7 * 24 * time.Hour

// NATSProducer publishes verdict envelopes into JetStream stream.
// Params: NATS connection and subject settings.
// Returns: verdict producer implementation.
type NATSProducer struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
	prefix  string
	now     func() time.Time
}

// NewNATSProducer creates JetStream producer for verdicts.
// Params: NATS config and service name stamped into envelopes.
// Returns: initialized producer or setup error.
func NewNATSProducer(cfg config.NATSConfig, service string) (*NATSProducer, error) {
	nc, js, err := natsconn.Connect(cfg.URL, "logalert-verdicts")
	if err != nil {
		return nil, err
	}
	prefix := cfg.Verdicts.SubjectPrefix
	if err := natsconn.EnsureStream(js, cfg.Verdicts.Stream, prefix+".>", nats.LimitsPolicy, verdictStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSProducer{
		nc:      nc,
		js:      js,
		service: service,
		prefix:  prefix,
		now:     time.Now,
	}, nil
}

// Publish writes one verdict envelope to its condition subject.
// Params: context and verdict.
// Returns: marshal or publish error.
func (p *NATSProducer) Publish(ctx context.Context, result domain.CheckResult) error {
	envelope := NewEnvelope(p.service, result, p.now())
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal verdict envelope: %w", err)
	}
	msg := nats.NewMsg(Subject(p.prefix, result.Condition.ID))
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, envelope.ID)
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish verdict %s: %w", result.Condition.ID, err)
	}
	return nil
}

// Close closes producer NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSProducer) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}
