package app

import (
	"fmt"

	"logalert/internal/alert"
	"logalert/internal/config"
	"logalert/internal/indexset"
)

// BuildEntries creates conditions and routes from config snapshot.
// Params: config, shared condition deps, and type factory.
// Returns: entries in config order or first validation error.
func BuildEntries(cfg config.Config, deps alert.Deps, factory *alert.Factory) ([]Entry, error) {
	entries := make([]Entry, 0, len(cfg.Condition))
	for _, conditionCfg := range cfg.Condition {
		condition, err := factory.Create(SpecFromConfig(conditionCfg), deps)
		if err != nil {
			return nil, fmt.Errorf("condition.%s: %w", conditionCfg.Name, err)
		}
		entries = append(entries, Entry{Condition: condition, Routes: conditionCfg.Route})
	}
	return entries, nil
}

// SpecFromConfig maps one condition table into factory input.
func SpecFromConfig(cfg config.ConditionConfig) alert.Spec {
	return alert.Spec{
		ID:            config.ConditionID(cfg),
		Type:          cfg.Type,
		Title:         cfg.Title,
		Stream:        alert.Stream{ID: cfg.Stream, Title: cfg.StreamTitle},
		CreatorUserID: cfg.Creator,
		CreatedAt:     cfg.CreatedAt,
		Parameters:    cfg.Parameters,
	}
}

// BuildRegistry creates index sets from config.
// Params: index set definitions.
// Returns: single-set registry for one set, multi-set registry otherwise.
func BuildRegistry(sets []config.IndexSetConfig) (indexset.Registry, error) {
	built := make([]*indexset.IndexSet, 0, len(sets))
	for _, setCfg := range sets {
		set, err := indexset.New(indexset.Config{Name: setCfg.Name, Prefix: setCfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("index_set.%s: %w", setCfg.Name, err)
		}
		built = append(built, set)
	}
	if len(built) == 1 {
		return indexset.NewSingleRegistry(built[0]), nil
	}
	registry, err := indexset.NewMultiRegistry(built...)
	if err != nil {
		return nil, err
	}
	return registry, nil
}
