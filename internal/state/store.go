package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"logalert/internal/domain"
)

const maxMutateAttempts = 8

var (
	// ErrNotFound indicates absent condition state.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update or create of existing key.
	ErrConflict = errors.New("revision conflict")
)

// Store persists driver-owned condition state.
// Params: condition ID keyed records with monotonically increasing revisions.
// Returns: backend persistence behavior.
type Store interface {
	Get(ctx context.Context, conditionID string) (domain.ConditionState, uint64, error)
	Create(ctx context.Context, record domain.ConditionState) (uint64, error)
	Update(ctx context.Context, record domain.ConditionState, expectedRevision uint64) (uint64, error)
	Delete(ctx context.Context, conditionID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Mutate applies one read-modify-write step with CAS retries.
// Params: store, condition ID, and pure mutation over current state (zero value when absent).
// Returns: stored state or last store error.
func Mutate(ctx context.Context, store Store, conditionID string, mutate func(domain.ConditionState) domain.ConditionState) (domain.ConditionState, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ConditionState{}, err
		}
		current, revision, err := store.Get(ctx, conditionID)
		exists := true
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return domain.ConditionState{}, err
			}
			exists = false
			current = domain.ConditionState{ConditionID: conditionID}
		}

		next := mutate(current)
		next.ConditionID = conditionID
		if exists {
			_, err = store.Update(ctx, next, revision)
		} else {
			_, err = store.Create(ctx, next)
		}
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return domain.ConditionState{}, err
		}
	}
	return domain.ConditionState{}, fmt.Errorf("mutate state %q: %w after %d attempts", conditionID, ErrConflict, maxMutateAttempts)
}

// Key converts condition ID into a KV-safe key.
// Params: raw condition ID.
// Returns: key with characters outside [A-Za-z0-9_=-] replaced by '_'.
func Key(conditionID string) string {
	var b strings.Builder
	b.Grow(len(conditionID) + len("condition."))
	b.WriteString("condition.")
	for _, r := range conditionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '=':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
