// Package search defines the backend contract consumed by alert conditions
// together with time ranges, sorting, the query language, and an in-process
// partition backend.
package search

import (
	"context"
	"errors"
	"time"

	"logalert/internal/domain"
)

var (
	// ErrInvalidRangeParameters indicates structurally invalid range bounds.
	ErrInvalidRangeParameters = errors.New("invalid range parameters")
	// ErrInvalidRangeFormat indicates an unparsable keyword range.
	ErrInvalidRangeFormat = errors.New("invalid range format")
	// ErrInvalidQuery indicates query or filter parse failure.
	ErrInvalidQuery = errors.New("invalid query")
)

// Direction is sort order.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Sorting selects ordering field and direction.
// Params: field name and direction.
// Returns: sort specification passed to backends.
type Sorting struct {
	Field     string
	Direction Direction
}

// TimestampDescending orders newest records first.
func TimestampDescending() Sorting {
	return Sorting{Field: domain.FieldTimestamp, Direction: Descending}
}

// Request is one scoped, time-bounded, sorted query.
// Params: query string, stream filter, time range, pagination, and sorting.
// Returns: backend search input.
type Request struct {
	Query  string
	Filter string
	Range  TimeRange
	Limit  uint
	Offset uint
	Sort   Sorting
}

// Record is one hit with its physical partition.
type Record struct {
	Index   string
	Message domain.Message
}

// Result is backend output. Records may hold fewer entries than TotalResults.
// Params: total match count, page of records, searched partitions, and latency.
// Returns: raw result interpreted by conditions.
type Result struct {
	TotalResults uint64
	Records      []Record
	UsedIndices  []string
	Took         time.Duration
}

// Backend executes searches over managed partitions.
// Params: context bounding the call and request.
// Returns: result or range/query/backend error.
type Backend interface {
	Search(ctx context.Context, req Request) (Result, error)
}
