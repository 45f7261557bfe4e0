package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"logalert/internal/app"
	"logalert/internal/clock"
	"logalert/internal/config"
	"logalert/internal/domain"
)

const quietLog = `[log.console]
enabled = true
level = "error"`

type runningService struct {
	service *app.Service
	baseURL string
}

func writeConfig(tb testing.TB, path, body string) {
	tb.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		tb.Fatalf("write config: %v", err)
	}
}

func startService(tb testing.TB, body string) (*runningService, string) {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "logalert.toml")
	writeConfig(tb, path, body)

	service, err := app.NewService(config.ConfigSource{File: path}, clock.RealClock{})
	if err != nil {
		tb.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	tb.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				tb.Errorf("service run: %v", err)
			}
		case <-time.After(15 * time.Second):
			tb.Errorf("service did not stop")
		}
	})

	deadline := time.Now().Add(10 * time.Second)
	for !service.Ready() || service.Addr() == "" {
		if time.Now().After(deadline) {
			tb.Fatalf("service did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return &runningService{service: service, baseURL: "http://" + service.Addr()}, path
}

// waitForOutcome evaluates until the condition reports want or the deadline passes.
func waitForOutcome(tb testing.TB, service *app.Service, conditionID string, want domain.Outcome) app.Evaluation {
	tb.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last app.Evaluation
	for time.Now().Before(deadline) {
		evaluation, err := service.Manager().Evaluate(context.Background(), conditionID)
		if err != nil {
			tb.Fatalf("evaluate %s: %v", conditionID, err)
		}
		last = evaluation
		if evaluation.Skipped == "" && evaluation.Result.Outcome == want {
			return evaluation
		}
		time.Sleep(50 * time.Millisecond)
	}
	tb.Fatalf("condition %s never reached %s, last %+v", conditionID, want, last.Result)
	return last
}
