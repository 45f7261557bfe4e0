// Package ingest accepts log records over HTTP and NATS JetStream and appends
// them into the current write target of their index set.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"logalert/internal/clock"
	"logalert/internal/domain"
	"logalert/internal/indexset"
	"logalert/internal/logging"
	"logalert/internal/metrics"
	"logalert/internal/permanent"

	"github.com/google/uuid"
)

// ErrUnknownIndexSet reports ingest into an index set absent from the registry.
var ErrUnknownIndexSet = errors.New("unknown index set")

// Appender stores one record into the set's current write target.
// Params: context, destination set, and record.
// Returns: partition written to or resolution error.
type Appender interface {
	Append(ctx context.Context, set *indexset.IndexSet, msg domain.Message) (string, error)
}

// Sink receives decoded ingest payloads.
// Params: context and validated messages.
// Returns: number of stored messages and first failure.
type Sink interface {
	Ingest(ctx context.Context, source string, messages []domain.IncomingMessage) (int, error)
}

// RouterConfig wires Router collaborators.
type RouterConfig struct {
	Registry   indexset.Registry
	DefaultSet string
	Appender   Appender
	Clock      clock.Clock
	NewID      func() string
	Logger     *slog.Logger
}

// Router resolves the index set of each record and appends it.
type Router struct {
	registry   indexset.Registry
	defaultSet string
	appender   Appender
	clock      clock.Clock
	newID      func() string
	logger     *slog.Logger
}

// NewRouter validates config and builds router.
// Params: registry, default set name, and appender; clock/id/logger optional.
// Returns: router or configuration error.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Registry == nil {
		return nil, errors.New("ingest router requires index set registry")
	}
	if cfg.Appender == nil {
		return nil, errors.New("ingest router requires appender")
	}
	if _, ok := cfg.Registry.Lookup(cfg.DefaultSet); !ok {
		return nil, fmt.Errorf("default index set %q: %w", cfg.DefaultSet, ErrUnknownIndexSet)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Router{
		registry:   cfg.Registry,
		defaultSet: cfg.DefaultSet,
		appender:   cfg.Appender,
		clock:      cfg.Clock,
		newID:      cfg.NewID,
		logger:     logging.Default(cfg.Logger).With("component", "ingest"),
	}, nil
}

// Ingest appends messages in order and stops at the first failure.
// Params: context, source label for metrics, and validated messages.
// Returns: stored count and error; unknown sets are marked permanent.
func (r *Router) Ingest(ctx context.Context, source string, messages []domain.IncomingMessage) (int, error) {
	metrics.IngestBatchSize.Observe(float64(len(messages)))
	receivedAt := r.clock.Now()
	for i, incoming := range messages {
		set, err := r.resolve(incoming.IndexSet)
		if err != nil {
			metrics.IngestMessagesTotal.WithLabelValues(source, "rejected").Add(float64(len(messages) - i))
			return i, err
		}
		partition, err := r.appender.Append(ctx, set, incoming.ToMessage(receivedAt, r.newID))
		if err != nil {
			metrics.IngestMessagesTotal.WithLabelValues(source, "failed").Add(float64(len(messages) - i))
			r.logger.Warn("append failed", "index_set", set.Name(), "source", source, "error", err.Error())
			return i, err
		}
		r.logger.Debug("message stored", "index_set", set.Name(), "partition", partition)
	}
	metrics.IngestMessagesTotal.WithLabelValues(source, "accepted").Add(float64(len(messages)))
	return len(messages), nil
}

func (r *Router) resolve(name string) (*indexset.IndexSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultSet
	}
	set, ok := r.registry.Lookup(name)
	if !ok {
		return nil, permanent.Mark(fmt.Errorf("%w %q", ErrUnknownIndexSet, name))
	}
	return set, nil
}
