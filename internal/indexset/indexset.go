// Package indexset models rotating partition collections and the registry
// that resolves write targets and partition membership across them.
//
// Rotation metadata is published as immutable snapshots through an atomic
// pointer. Readers load one snapshot per call and never lock against the
// rotation writer.
package indexset

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	deflectorSuffix = "deflector"
	separator       = "_"
)

var (
	// ErrTooManyAliases indicates more than one partition carries the write alias.
	ErrTooManyAliases = errors.New("too many write aliases")
	// ErrInvalidPrefix indicates an index prefix that cannot form partition names.
	ErrInvalidPrefix = errors.New("invalid index prefix")

	prefixPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_+\-]*$`)
)

// Snapshot is one immutable view of rotation metadata.
// Params: monotonically increasing version, ordered partitions, and alias targets.
// Returns: read-only state shared by concurrent readers.
type Snapshot struct {
	Version      uint64
	Partitions   []string
	WriteTargets []string
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Version:      s.Version,
		Partitions:   append([]string(nil), s.Partitions...),
		WriteTargets: append([]string(nil), s.WriteTargets...),
	}
}

// Config describes one index set.
// Params: logical name and partition name prefix.
// Returns: construction input for New.
type Config struct {
	Name   string
	Prefix string
}

// IndexSet is one independently rotating collection of partitions.
// Params: identity from Config and atomically published Snapshot.
// Returns: resolution surface for one set.
type IndexSet struct {
	name   string
	prefix string
	snap   atomic.Pointer[Snapshot]
}

// New builds empty index set.
// Params: set config with non-empty name and valid prefix.
// Returns: index set without partitions or configuration error.
func New(cfg Config) (*IndexSet, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("index set name is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("%w %q", ErrInvalidPrefix, cfg.Prefix)
	}
	set := &IndexSet{name: name, prefix: prefix}
	set.snap.Store(&Snapshot{})
	return set, nil
}

// Name returns logical set name.
func (s *IndexSet) Name() string { return s.name }

// Prefix returns partition name prefix.
func (s *IndexSet) Prefix() string { return s.prefix }

// WriteAlias returns the deflector name that always points at the write target.
func (s *IndexSet) WriteAlias() string {
	return s.prefix + separator + deflectorSuffix
}

// WriteWildcard returns the pattern matching every partition of this set.
func (s *IndexSet) WriteWildcard() string {
	return s.prefix + separator + "*"
}

// PartitionName formats partition name for rotation number.
func (s *IndexSet) PartitionName(number int) string {
	return s.prefix + separator + strconv.Itoa(number)
}

// Snapshot returns detached copy of current rotation metadata.
// Params: none.
// Returns: snapshot copy safe for caller mutation.
func (s *IndexSet) Snapshot() Snapshot {
	return s.snap.Load().clone()
}

// IsManaged reports whether partition name belongs to this set.
// Params: physical partition name.
// Returns: true for `<prefix>_<n>` names, current or historical.
func (s *IndexSet) IsManaged(partition string) bool {
	_, ok := s.partitionNumber(partition)
	return ok
}

// IsWriteAlias reports whether name is this set's deflector alias.
func (s *IndexSet) IsWriteAlias(name string) bool {
	return name == s.WriteAlias()
}

// CurrentWriteTarget resolves the partition behind the write alias.
// Params: none.
// Returns: target name ("" before first rotation) or ErrTooManyAliases.
func (s *IndexSet) CurrentWriteTarget() (string, error) {
	return currentTarget(s, s.snap.Load())
}

// IsUp reports whether the write alias resolves to exactly one partition.
func (s *IndexSet) IsUp() bool {
	return len(s.snap.Load().WriteTargets) == 1
}

// Partitions returns known partitions in rotation order.
func (s *IndexSet) Partitions() []string {
	return append([]string(nil), s.snap.Load().Partitions...)
}

// Publish replaces rotation metadata with externally observed state.
// Params: snapshot with partitions and alias targets owned by this set.
// Returns: error when snapshot references foreign partitions.
func (s *IndexSet) Publish(next Snapshot) error {
	for _, partition := range next.Partitions {
		if !s.IsManaged(partition) {
			return fmt.Errorf("partition %q is not managed by index set %q", partition, s.name)
		}
	}
	for _, target := range next.WriteTargets {
		if !slices.Contains(next.Partitions, target) {
			return fmt.Errorf("write target %q is not a known partition of index set %q", target, s.name)
		}
	}
	for {
		current := s.snap.Load()
		staged := next.clone()
		staged.Version = current.Version + 1
		if s.snap.CompareAndSwap(current, &staged) {
			return nil
		}
	}
}

// Cycle opens the next partition and points the write alias at it.
// Params: none.
// Returns: new write target name or ErrTooManyAliases when metadata is inconsistent.
func (s *IndexSet) Cycle() (string, error) {
	for {
		current := s.snap.Load()
		if len(current.WriteTargets) > 1 {
			return "", s.ambiguous(current.WriteTargets)
		}
		next := -1
		for _, partition := range current.Partitions {
			if number, ok := s.partitionNumber(partition); ok && number > next {
				next = number
			}
		}
		target := s.PartitionName(next + 1)
		staged := Snapshot{
			Version:      current.Version + 1,
			Partitions:   append(append([]string(nil), current.Partitions...), target),
			WriteTargets: []string{target},
		}
		if s.snap.CompareAndSwap(current, &staged) {
			return target, nil
		}
	}
}

// partitionNumber parses rotation number from managed partition name.
// Params: partition name.
// Returns: rotation number and ok flag.
func (s *IndexSet) partitionNumber(partition string) (int, bool) {
	matched, err := doublestar.Match(s.WriteWildcard(), partition)
	if err != nil || !matched {
		return 0, false
	}
	suffix := strings.TrimPrefix(partition, s.prefix+separator)
	if suffix == "" || strings.TrimLeft(suffix, "0123456789") != "" {
		return 0, false
	}
	number, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return number, true
}

func (s *IndexSet) ambiguous(targets []string) error {
	return fmt.Errorf("%w: index set %q alias %q points at %s", ErrTooManyAliases, s.name, s.WriteAlias(), strings.Join(targets, ", "))
}

// currentTarget resolves write target from an already loaded snapshot.
func currentTarget(set *IndexSet, snap *Snapshot) (string, error) {
	switch len(snap.WriteTargets) {
	case 0:
		return "", nil
	case 1:
		return snap.WriteTargets[0], nil
	default:
		return "", set.ambiguous(snap.WriteTargets)
	}
}
