package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"logalert/internal/domain"
	"logalert/internal/indexset"
	"logalert/internal/logging"
)

const (
	defaultMaxResults = 10000
	cancelCheckEvery  = 1024
)

// MemoryConfig configures the in-process partition backend.
type MemoryConfig struct {
	Registry indexset.Registry
	// Now drives range evaluation. Defaults to time.Now.
	Now func() time.Time
	// MaxResults caps records returned per search. Defaults to 10000.
	MaxResults uint
	// OnRotate observes every partition opened by Append or Cycle.
	OnRotate func(set, partition string)
	Logger   *slog.Logger
}

// MemoryBackend stores records per partition and searches the partitions
// matched by registry wildcards.
//
// Appends into one index set are serialized with that set's rotation so an
// empty set is cycled exactly once.
type MemoryBackend struct {
	mu         sync.RWMutex
	cfg        MemoryConfig
	partitions map[string][]domain.Message
	logger     *slog.Logger
}

// NewMemoryBackend builds empty backend.
// Params: config with non-nil registry.
// Returns: backend or configuration error.
func NewMemoryBackend(cfg MemoryConfig) (*MemoryBackend, error) {
	if cfg.Registry == nil {
		return nil, errors.New("memory backend requires index set registry")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &MemoryBackend{
		cfg:        cfg,
		partitions: make(map[string][]domain.Message),
		logger:     logging.Default(cfg.Logger).With("component", "search-backend", "type", "memory"),
	}, nil
}

// Append stores record into the set's current write target.
// Params: context, destination index set, and record.
// Returns: partition name written to or resolution error.
func (b *MemoryBackend) Append(ctx context.Context, set *indexset.IndexSet, msg domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	target, err := set.CurrentWriteTarget()
	if err != nil {
		return "", fmt.Errorf("resolve write target of %q: %w", set.Name(), err)
	}
	if target == "" {
		target, err = b.cycleLocked(set)
		if err != nil {
			return "", err
		}
	}
	b.partitions[target] = append(b.partitions[target], msg.Clone())
	return target, nil
}

// Cycle rotates one index set and opens its new partition.
// Params: index set.
// Returns: new write target or rotation error.
func (b *MemoryBackend) Cycle(set *indexset.IndexSet) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycleLocked(set)
}

func (b *MemoryBackend) cycleLocked(set *indexset.IndexSet) (string, error) {
	previous, _ := set.CurrentWriteTarget()
	target, err := set.Cycle()
	if err != nil {
		return "", fmt.Errorf("cycle index set %q: %w", set.Name(), err)
	}
	if _, exists := b.partitions[target]; !exists {
		b.partitions[target] = nil
	}
	b.logger.Info("index set cycled", "index_set", set.Name(), "previous", previous, "target", target)
	if b.cfg.OnRotate != nil {
		b.cfg.OnRotate(set.Name(), target)
	}
	return target, nil
}

// Count returns stored record count of one partition.
func (b *MemoryBackend) Count(partition string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.partitions[partition])
}

// Search scans partitions matching the registry wildcards.
// Params: context checked during scan and request.
// Returns: total matches, sorted page capped by MaxResults, and searched partitions.
func (b *MemoryBackend) Search(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Range == nil {
		return Result{}, fmt.Errorf("%w: time range is required", ErrInvalidRangeParameters)
	}
	from, to, err := req.Range.Bounds(b.cfg.Now())
	if err != nil {
		return Result{}, err
	}
	query, err := ParseQuery(req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("parse query: %w", err)
	}
	filter, err := ParseQuery(req.Filter)
	if err != nil {
		return Result{}, fmt.Errorf("parse filter: %w", err)
	}

	b.mu.RLock()
	used := b.matchingPartitionsLocked()
	var hits []Record
	scanned := 0
	for _, partition := range used {
		for _, msg := range b.partitions[partition] {
			scanned++
			if scanned%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					b.mu.RUnlock()
					return Result{}, err
				}
			}
			if !inRange(msg.Timestamp, from, to) || !filter.Match(msg) || !query.Match(msg) {
				continue
			}
			hits = append(hits, Record{Index: partition, Message: msg})
		}
	}
	b.mu.RUnlock()

	sortRecords(hits, req.Sort)

	total := uint64(len(hits))
	limit := min(req.Limit, b.cfg.MaxResults)
	records := make([]Record, 0, limit)
	if offset := uint64(req.Offset); offset < total {
		end := min(offset+uint64(limit), total)
		for _, hit := range hits[offset:end] {
			records = append(records, Record{Index: hit.Index, Message: hit.Message.Clone()})
		}
	}

	return Result{
		TotalResults: total,
		Records:      records,
		UsedIndices:  used,
		Took:         time.Since(started),
	}, nil
}

// matchingPartitionsLocked lists stored partitions matched by any registry wildcard.
func (b *MemoryBackend) matchingPartitionsLocked() []string {
	patterns := b.cfg.Registry.WriteWildcards()
	out := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		if !b.cfg.Registry.IsManaged(name) {
			continue
		}
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, name); ok {
				out = append(out, name)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// inRange reports ts inside (from, to]. Zero from means no lower bound.
func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && !ts.After(from) {
		return false
	}
	return !ts.After(to)
}

// sortRecords orders hits in place. Ties keep scan order.
func sortRecords(hits []Record, sorting Sorting) {
	field := sorting.Field
	if field == "" {
		field = domain.FieldTimestamp
	}
	desc := sorting.Direction == Descending
	sort.SliceStable(hits, func(i, j int) bool {
		cmp := compareField(hits[i].Message, hits[j].Message, field)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareField(a, b domain.Message, field string) int {
	if field == domain.FieldTimestamp {
		return a.Timestamp.Compare(b.Timestamp)
	}
	av, _ := a.Field(field)
	bv, _ := b.Field(field)
	return strings.Compare(stringify(av), stringify(bv))
}

var _ Backend = (*MemoryBackend)(nil)
