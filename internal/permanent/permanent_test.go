package permanent

import (
	"errors"
	"fmt"
	"testing"
)

func TestMarkAndIs(t *testing.T) {
	t.Parallel()

	if Mark(nil) != nil || MarkStatus(nil, 400) != nil {
		t.Fatalf("expected nil passthrough")
	}
	root := errors.New("bad request")
	err := fmt.Errorf("send: %w", MarkStatus(root, 400))
	if !Is(err) {
		t.Fatalf("expected permanent marker through wrap")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected root cause to stay reachable")
	}
	status, ok := Status(err)
	if !ok || status != 400 {
		t.Fatalf("unexpected status %d ok=%v", status, ok)
	}
	if Is(root) {
		t.Fatalf("plain error must not be permanent")
	}
	if _, ok := Status(Mark(root)); ok {
		t.Fatalf("expected no status on plain mark")
	}
}

func TestIsClientStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{400, true},
		{404, true},
		{408, false},
		{429, false},
		{500, false},
		{200, false},
	}
	for _, tt := range tests {
		if got := IsClientStatus(tt.status); got != tt.want {
			t.Fatalf("IsClientStatus(%d)=%v want %v", tt.status, got, tt.want)
		}
	}
}
