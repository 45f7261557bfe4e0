package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logalert.toml")
	body := `[condition.c1]
type = "message_count"
stream = "s1"

[condition.c1.parameters]
time = 5
threshold = 10
threshold_type = "more"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--config-file", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "config ok: 1 conditions") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestValidateCommandRequiresSource(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"validate"})
	err := cmd.Execute()
	var srcErr sourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected source error, got %v", err)
	}
}
