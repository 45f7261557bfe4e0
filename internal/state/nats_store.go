package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/natsconn"

	"github.com/nats-io/nats.go"
)

// NATSStore persists condition state in one JetStream KV bucket.
// Params: NATS connection and KV bucket handle.
// Returns: KV-backed state store shared by every service instance.
type NATSStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSStore opens or creates the state bucket.
// Params: NATS settings from config (URL list and fixed bucket name).
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSConfig) (*NATSStore, error) {
	nc, js, err := natsconn.Connect(settings.URL, "logalert-state")
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(settings.StateBucket)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			nc.Close()
			return nil, fmt.Errorf("open state bucket %q: %w", settings.StateBucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      settings.StateBucket,
			Description: "logalert condition check state",
			History:     1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create state bucket %q: %w", settings.StateBucket, err)
		}
	}

	return &NATSStore{nc: nc, kv: kv}, nil
}

// Get reads one state record and its KV revision.
// Params: condition ID.
// Returns: state, revision, or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, conditionID string) (domain.ConditionState, uint64, error) {
	entry, err := s.kv.Get(Key(conditionID))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.ConditionState{}, 0, ErrNotFound
		}
		return domain.ConditionState{}, 0, fmt.Errorf("get state: %w", err)
	}

	var record domain.ConditionState
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return domain.ConditionState{}, 0, fmt.Errorf("decode state: %w", err)
	}
	return record, entry.Revision(), nil
}

// Create writes state only when key is absent.
// Params: state with condition ID.
// Returns: KV revision or ErrConflict when another writer created it first.
func (s *NATSStore) Create(_ context.Context, record domain.ConditionState) (uint64, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	rev, err := s.kv.Create(Key(record.ConditionID), body)
	if err != nil {
		if isRevisionConflict(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("create state: %w", err)
	}
	return rev, nil
}

// Update writes state using expected revision CAS.
// Params: replacement state and expected revision.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) Update(_ context.Context, record domain.ConditionState, expectedRevision uint64) (uint64, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	rev, err := s.kv.Update(Key(record.ConditionID), body, expectedRevision)
	if err != nil {
		if isRevisionConflict(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update state: %w", err)
	}
	return rev, nil
}

// Delete removes state for one condition.
func (s *NATSStore) Delete(_ context.Context, conditionID string) error {
	if err := s.kv.Delete(Key(conditionID)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// List returns sorted condition IDs decoded from stored records.
func (s *NATSStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get state %q: %w", key, err)
		}
		var record domain.ConditionState
		if err := json.Unmarshal(entry.Value(), &record); err != nil {
			return nil, fmt.Errorf("decode state %q: %w", key, err)
		}
		ids = append(ids, record.ConditionID)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes underlying NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

func isRevisionConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}
