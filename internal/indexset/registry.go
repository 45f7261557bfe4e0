package indexset

import (
	"errors"
	"fmt"
	"slices"
)

// Registry aggregates index sets behind one resolution surface.
// Params: none.
// Returns: read-only partition and alias queries safe for concurrent use.
type Registry interface {
	IndexSets() []*IndexSet
	ForEach(fn func(*IndexSet))
	Lookup(name string) (*IndexSet, bool)
	ManagedPartitions() []string
	IsManaged(partition string) bool
	WriteWildcards() []string
	WriteAliases() []string
	ResolveWriteTargets() ([]string, error)
	IsCurrentWriteAlias(name string) bool
	IsCurrentWriteTarget(partition string) (bool, error)
	IsUp() bool
}

// SingleRegistry adapts one index set onto Registry.
// Params: wrapped index set.
// Returns: registry with exactly one member.
type SingleRegistry struct {
	set *IndexSet
}

// NewSingleRegistry wraps one set.
// Params: non-nil index set.
// Returns: single-set registry.
func NewSingleRegistry(set *IndexSet) *SingleRegistry {
	return &SingleRegistry{set: set}
}

// IndexSets returns the only member.
func (r *SingleRegistry) IndexSets() []*IndexSet { return []*IndexSet{r.set} }

// ForEach calls fn for the only member.
func (r *SingleRegistry) ForEach(fn func(*IndexSet)) { fn(r.set) }

// Lookup finds member by name.
func (r *SingleRegistry) Lookup(name string) (*IndexSet, bool) {
	if r.set.Name() == name {
		return r.set, true
	}
	return nil, false
}

// ManagedPartitions returns known partitions of the set.
func (r *SingleRegistry) ManagedPartitions() []string { return r.set.Partitions() }

// IsManaged reports set membership.
func (r *SingleRegistry) IsManaged(partition string) bool { return r.set.IsManaged(partition) }

// WriteWildcards returns the set wildcard.
func (r *SingleRegistry) WriteWildcards() []string { return []string{r.set.WriteWildcard()} }

// WriteAliases returns the set deflector alias.
func (r *SingleRegistry) WriteAliases() []string { return []string{r.set.WriteAlias()} }

// ResolveWriteTargets returns current write target of the set.
// Params: none.
// Returns: zero or one target, or ErrTooManyAliases.
func (r *SingleRegistry) ResolveWriteTargets() ([]string, error) {
	target, err := r.set.CurrentWriteTarget()
	if err != nil {
		return nil, err
	}
	if target == "" {
		return []string{}, nil
	}
	return []string{target}, nil
}

// IsCurrentWriteAlias reports whether name is the set alias.
func (r *SingleRegistry) IsCurrentWriteAlias(name string) bool { return r.set.IsWriteAlias(name) }

// IsCurrentWriteTarget compares partition with current write target.
// Params: partition name.
// Returns: match flag or ErrTooManyAliases.
func (r *SingleRegistry) IsCurrentWriteTarget(partition string) (bool, error) {
	target, err := r.set.CurrentWriteTarget()
	if err != nil {
		return false, err
	}
	return target != "" && target == partition, nil
}

// IsUp reports whether the set has exactly one write target.
func (r *SingleRegistry) IsUp() bool { return r.set.IsUp() }

// MultiRegistry aggregates several index sets in insertion order.
// Params: member sets with unique names and prefixes.
// Returns: union view over members.
type MultiRegistry struct {
	sets []*IndexSet
}

// NewMultiRegistry builds multi-set registry.
// Params: member sets; nil members, duplicate names and duplicate prefixes are rejected.
// Returns: registry or construction error.
func NewMultiRegistry(sets ...*IndexSet) (*MultiRegistry, error) {
	names := make(map[string]struct{}, len(sets))
	prefixes := make(map[string]struct{}, len(sets))
	members := make([]*IndexSet, 0, len(sets))
	for _, set := range sets {
		if set == nil {
			return nil, errors.New("index set is nil")
		}
		if _, exists := names[set.Name()]; exists {
			return nil, fmt.Errorf("duplicate index set name %q", set.Name())
		}
		if _, exists := prefixes[set.Prefix()]; exists {
			return nil, fmt.Errorf("duplicate index prefix %q", set.Prefix())
		}
		names[set.Name()] = struct{}{}
		prefixes[set.Prefix()] = struct{}{}
		members = append(members, set)
	}
	return &MultiRegistry{sets: members}, nil
}

// IndexSets returns members in insertion order.
func (r *MultiRegistry) IndexSets() []*IndexSet { return slices.Clone(r.sets) }

// ForEach calls fn for every member in insertion order.
func (r *MultiRegistry) ForEach(fn func(*IndexSet)) {
	for _, set := range r.sets {
		fn(set)
	}
}

// Lookup finds member by name.
func (r *MultiRegistry) Lookup(name string) (*IndexSet, bool) {
	for _, set := range r.sets {
		if set.Name() == name {
			return set, true
		}
	}
	return nil, false
}

// ManagedPartitions returns union of member partitions.
// Params: none.
// Returns: partitions grouped by member order, each group in rotation order.
func (r *MultiRegistry) ManagedPartitions() []string {
	out := make([]string, 0)
	for _, set := range r.sets {
		out = append(out, set.snap.Load().Partitions...)
	}
	return out
}

// IsManaged reports membership in any member set.
func (r *MultiRegistry) IsManaged(partition string) bool {
	for _, set := range r.sets {
		if set.IsManaged(partition) {
			return true
		}
	}
	return false
}

// WriteWildcards returns member wildcards in insertion order.
func (r *MultiRegistry) WriteWildcards() []string {
	out := make([]string, 0, len(r.sets))
	for _, set := range r.sets {
		out = append(out, set.WriteWildcard())
	}
	return out
}

// WriteAliases returns member deflector aliases in insertion order.
func (r *MultiRegistry) WriteAliases() []string {
	out := make([]string, 0, len(r.sets))
	for _, set := range r.sets {
		out = append(out, set.WriteAlias())
	}
	return out
}

// ResolveWriteTargets returns current write targets of all members.
// Params: none.
// Returns: targets in member order, skipping unrotated sets, or first ambiguity error.
func (r *MultiRegistry) ResolveWriteTargets() ([]string, error) {
	out := make([]string, 0, len(r.sets))
	for _, set := range r.sets {
		target, err := currentTarget(set, set.snap.Load())
		if err != nil {
			return nil, err
		}
		if target != "" {
			out = append(out, target)
		}
	}
	return out, nil
}

// IsCurrentWriteAlias reports whether name is any member alias.
func (r *MultiRegistry) IsCurrentWriteAlias(name string) bool {
	for _, set := range r.sets {
		if set.IsWriteAlias(name) {
			return true
		}
	}
	return false
}

// IsCurrentWriteTarget checks partition against the owning member's write target.
// Params: partition name.
// Returns: match flag, or ErrTooManyAliases from the owning member.
func (r *MultiRegistry) IsCurrentWriteTarget(partition string) (bool, error) {
	for _, set := range r.sets {
		if !set.IsManaged(partition) {
			continue
		}
		target, err := set.CurrentWriteTarget()
		if err != nil {
			return false, err
		}
		return target != "" && target == partition, nil
	}
	return false, nil
}

// IsUp reports whether every member has exactly one write target.
func (r *MultiRegistry) IsUp() bool {
	for _, set := range r.sets {
		if !set.IsUp() {
			return false
		}
	}
	return true
}
