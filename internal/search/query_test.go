package search

import (
	"errors"
	"testing"
	"time"

	"logalert/internal/domain"
)

func sampleMessage() domain.Message {
	return domain.Message{
		ID:        "m1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Streams:   []string{"S", "audit"},
		Fields: map[string]any{
			"message": "Connection to db-1 failed: timeout after 30s",
			"source":  "api-7",
			"level":   "error",
			"status":  503,
			"quoted":  `say "hi" \ bye`,
		},
	}
}

func TestQueryMatch(t *testing.T) {
	t.Parallel()

	msg := sampleMessage()
	cases := []struct {
		query string
		want  bool
	}{
		{query: "", want: true},
		{query: "*", want: true},
		{query: `level:"error"`, want: true},
		{query: `level:"ERROR"`, want: true},
		{query: `level:"warn"`, want: false},
		{query: "level:error", want: true},
		{query: `message:"db 1 failed"`, want: true},
		{query: `message:"failed db"`, want: false},
		{query: "timeout", want: true},
		{query: `"timeout after"`, want: true},
		{query: "status:503", want: true},
		{query: "status:*", want: true},
		{query: "missing:*", want: false},
		{query: "streams:S", want: true},
		{query: "streams:other", want: false},
		{query: `streams:S AND level:"error"`, want: true},
		{query: `streams:S and level:"warn"`, want: false},
		{query: `streams:S source:api`, want: true},
		{query: `quoted:` + QuoteValue(`say "hi" \ bye`), want: true},
	}
	for _, tc := range cases {
		q, err := ParseQuery(tc.query)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.query, err)
		}
		if got := q.Match(msg); got != tc.want {
			t.Fatalf("query %q: got %v want %v", tc.query, got, tc.want)
		}
	}
}

func TestParseQueryErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`level:"error`,
		`:value`,
		`level:`,
		`AND level:x`,
		`level:x AND`,
		`level:x AND AND y`,
		`level:"bad \n escape"`,
		`level:err"or`,
		`oops"`,
	} {
		_, err := ParseQuery(raw)
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("%q: expected ErrInvalidQuery, got %v", raw, err)
		}
		var qerr *QueryError
		if !errors.As(err, &qerr) {
			t.Fatalf("%q: expected *QueryError, got %T", raw, err)
		}
	}
}

func TestQuoteValue(t *testing.T) {
	t.Parallel()

	if got := QuoteValue("error"); got != `"error"` {
		t.Fatalf("unexpected quoting: %s", got)
	}
	if got := QuoteValue(`a"b\c`); got != `"a\"b\\c"` {
		t.Fatalf("unexpected escaping: %s", got)
	}
	if StreamFilter("S") != "streams:S" {
		t.Fatalf("unexpected filter: %s", StreamFilter("S"))
	}
}
