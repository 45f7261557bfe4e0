package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange computes absolute bounds at evaluation time.
// Backends treat the window as (from, to]: the lower bound is exclusive so
// successive look-backs of one interval tile the timeline with no overlap.
// Params: evaluation instant.
// Returns: lower and upper bound (zero from means unbounded) or range error.
type TimeRange interface {
	Bounds(now time.Time) (from time.Time, to time.Time, err error)
	String() string
}

// RelativeRange looks back a fixed duration from evaluation time. Zero means unbounded.
type RelativeRange struct {
	Range time.Duration
}

// NewRelativeRange builds relative range.
// Params: look-back duration, must not be negative.
// Returns: range or ErrInvalidRangeParameters.
func NewRelativeRange(d time.Duration) (RelativeRange, error) {
	if d < 0 {
		return RelativeRange{}, fmt.Errorf("%w: negative relative range %s", ErrInvalidRangeParameters, d)
	}
	return RelativeRange{Range: d}, nil
}

// Bounds returns (now-Range, now].
func (r RelativeRange) Bounds(now time.Time) (time.Time, time.Time, error) {
	if r.Range < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: negative relative range %s", ErrInvalidRangeParameters, r.Range)
	}
	if r.Range == 0 {
		return time.Time{}, now, nil
	}
	return now.Add(-r.Range), now, nil
}

func (r RelativeRange) String() string {
	return "relative:" + strconv.FormatInt(int64(r.Range/time.Second), 10) + "s"
}

// AbsoluteRange is a fixed (From, To] window.
type AbsoluteRange struct {
	From time.Time
	To   time.Time
}

// NewAbsoluteRange builds absolute range.
// Params: lower and upper bound with from <= to.
// Returns: range or ErrInvalidRangeParameters.
func NewAbsoluteRange(from, to time.Time) (AbsoluteRange, error) {
	r := AbsoluteRange{From: from, To: to}
	if _, _, err := r.Bounds(time.Time{}); err != nil {
		return AbsoluteRange{}, err
	}
	return r, nil
}

// Bounds returns configured window regardless of evaluation time.
func (r AbsoluteRange) Bounds(time.Time) (time.Time, time.Time, error) {
	if r.From.IsZero() || r.To.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: absolute range requires both bounds", ErrInvalidRangeParameters)
	}
	if r.From.After(r.To) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRangeParameters, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return r.From, r.To, nil
}

func (r AbsoluteRange) String() string {
	return "absolute:" + r.From.UTC().Format(time.RFC3339) + ".." + r.To.UTC().Format(time.RFC3339)
}

var keywordPattern = regexp.MustCompile(`^last\s+(\d+)\s+(minute|minutes|hour|hours|day|days)$`)

// KeywordRange is a natural-language look-back such as "last 5 minutes".
type KeywordRange struct {
	Keyword string
}

// NewKeywordRange validates keyword eagerly.
// Params: keyword expression.
// Returns: range or ErrInvalidRangeFormat.
func NewKeywordRange(keyword string) (KeywordRange, error) {
	r := KeywordRange{Keyword: keyword}
	if _, err := r.duration(); err != nil {
		return KeywordRange{}, err
	}
	return r, nil
}

// Bounds parses keyword and returns (now-d, now].
func (r KeywordRange) Bounds(now time.Time) (time.Time, time.Time, error) {
	d, err := r.duration()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return now.Add(-d), now, nil
}

func (r KeywordRange) String() string {
	return "keyword:" + r.Keyword
}

func (r KeywordRange) duration() (time.Duration, error) {
	parts := keywordPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(r.Keyword)))
	if parts == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRangeFormat, r.Keyword)
	}
	amount, err := strconv.Atoi(parts[1])
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRangeFormat, r.Keyword)
	}
	unit := time.Minute
	switch strings.TrimSuffix(parts[2], "s") {
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	}
	return time.Duration(amount) * unit, nil
}
