package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logalert/internal/config"
	"logalert/internal/logging"
	"logalert/internal/metrics"
	"logalert/internal/natsconn"
	"logalert/internal/permanent"

	"github.com/nats-io/nats.go"
)

const (
	// SourceNATS labels records received from JetStream.
	SourceNATS = "nats"

	ingestStreamMaxAge = 24 * time.Hour
)

// NATSSubscriber consumes messages via JetStream queue consumer and forwards to sink.
// Params: NATS connection, JetStream queue subscriptions, and sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumers for log ingestion.
// Params: NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSConfig, sink Sink, logger *slog.Logger) (*NATSSubscriber, error) {
	ingest := cfg.Ingest
	nc, js, err := natsconn.Connect(cfg.URL, "logalert-ingest")
	if err != nil {
		return nil, err
	}
	if err := natsconn.EnsureStream(js, ingest.Stream, ingest.Subject, nats.LimitsPolicy, ingestStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logging.Default(logger).With("component", "nats-ingest"),
	}
	ackWait := time.Duration(ingest.AckWaitSec) * time.Second
	nackDelay := time.Duration(ingest.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(ingest.Stream),
		nats.Durable(ingest.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(ingest.MaxDeliver),
		nats.MaxAckPending(ingest.MaxAckPending),
		nats.DeliverAll(),
	}
	handler := func(message *nats.Msg) {
		subscriber.handle(message, sink, ackWait, nackDelay)
	}

	workers := max(ingest.Workers, 1)
	for i := 0; i < workers; i++ {
		sub, err := js.QueueSubscribe(ingest.Subject, ingest.DeliverGroup, handler, subOpts...)
		if err != nil {
			_ = subscriber.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", ingest.Subject, ingest.DeliverGroup, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

func (s *NATSSubscriber) handle(message *nats.Msg, sink Sink, ackWait, nackDelay time.Duration) {
	if message == nil {
		return
	}
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)

	messages, err := decodePayloadInto(message.Data, scratch)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(SourceNATS, "invalid").Inc()
		s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
		s.ackMessage(message, "decode")
		return
	}

	ctx := context.Background()
	if ackWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ackWait)
		defer cancel()
	}
	stored, err := sink.Ingest(ctx, SourceNATS, messages)
	if err != nil {
		if permanent.Is(err) {
			s.logger.Warn("nats ingest rejected", "subject", message.Subject, "stored", stored, "error", err.Error())
			s.ackMessage(message, "rejected")
			return
		}
		s.logger.Error("nats ingest push failed", "subject", message.Subject, "stored", stored, "error", err.Error())
		s.nackMessage(message, nackDelay)
		return
	}
	s.ackMessage(message, "processed")
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains subscriptions and closes connection.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.nc.Close()
	return firstErr
}
