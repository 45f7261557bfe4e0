package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"logalert/internal/clock"
	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/indexset"
	"logalert/internal/logging"
)

const serviceTestConfig = `[service]
name = "logalert-test"
mode = "single"

[http]
listen = "127.0.0.1:0"

[condition.c1]
type = "field_content_value"
stream = "s1"
stream_title = "Stream One"

[condition.c1.parameters]
field = "level"
value = "ERROR"
grace = 0
backlog = 1
`

func parseServiceConfig(t *testing.T, body string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func startTestService(t *testing.T) (*Service, string) {
	t.Helper()
	cfg := parseServiceConfig(t, serviceTestConfig)
	service, err := newService(config.ConfigSource{}, cfg, logging.Discard(), clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("service did not stop")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for !service.Ready() || service.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("service did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return service, "http://" + service.Addr()
}

func TestServiceEndToEnd(t *testing.T) {
	t.Parallel()

	service, baseURL := startTestService(t)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", resp.StatusCode)
	}
	cfg := service.Config()
	set, _ := service.registry.Lookup(cfg.DefaultIndexSet())
	if target, err := set.CurrentWriteTarget(); err != nil || target != "logalert_0" {
		t.Fatalf("expected startup to open logalert_0, got %q err=%v", target, err)
	}

	payload := `{"streams":["s1"],"fields":{"message":"disk failure","level":"ERROR"}}`
	resp, err = client.Post(baseURL+"/ingest", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ingest request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected ingest 202, got %d", resp.StatusCode)
	}

	var evaluation Evaluation
	deadline := time.Now().Add(5 * time.Second)
	for {
		evaluation, err = service.Manager().Evaluate(context.Background(), "c1")
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if evaluation.Skipped == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("evaluation kept being skipped: %s", evaluation.Skipped)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if evaluation.Result.Outcome != domain.OutcomeTriggered {
		t.Fatalf("expected triggered verdict, got %+v", evaluation.Result)
	}

	resp, err = client.Post(baseURL+"/system/deflector/cycle", "application/json", nil)
	if err != nil {
		t.Fatalf("cycle request: %v", err)
	}
	var cycled struct {
		IndexSet   string   `json:"index_set"`
		Target     string   `json:"target"`
		Partitions []string `json:"partitions"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&cycled)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || decodeErr != nil {
		t.Fatalf("unexpected cycle response %d: %v", resp.StatusCode, decodeErr)
	}
	if cycled.IndexSet != "default" || cycled.Target != "logalert_1" || len(cycled.Partitions) != 2 {
		t.Fatalf("unexpected cycle body %+v", cycled)
	}

	resp, err = client.Post(baseURL+"/system/deflector/cycle?index_set=missing", "application/json", nil)
	if err != nil {
		t.Fatalf("cycle unknown request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown index set, got %d", resp.StatusCode)
	}

	resp, err = client.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "logalert_condition_checks_total") {
		t.Fatalf("expected check metrics in output")
	}
}

func TestValidateRejectsBadConditionParameters(t *testing.T) {
	t.Parallel()

	cfg := parseServiceConfig(t, serviceTestConfig)
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := parseServiceConfig(t, strings.Replace(serviceTestConfig, `value = "ERROR"`, `value = ""`, 1))
	err := Validate(bad)
	if err == nil || !strings.Contains(err.Error(), "condition.c1") {
		t.Fatalf("expected condition validation error, got %v", err)
	}
}

func TestRestartRequired(t *testing.T) {
	t.Parallel()

	current := parseServiceConfig(t, serviceTestConfig)

	same := current
	same.Condition = nil
	if err := restartRequired(current, same); err != nil {
		t.Fatalf("condition changes must reload in place: %v", err)
	}

	httpChanged := current
	httpChanged.HTTP.Listen = "127.0.0.1:9999"
	if err := restartRequired(current, httpChanged); err == nil {
		t.Fatalf("expected http change to require restart")
	}

	modeChanged := current
	modeChanged.Service.Mode = config.ServiceModeNATS
	if err := restartRequired(current, modeChanged); err == nil {
		t.Fatalf("expected mode change to require restart")
	}
}

func TestReloadConfigPublishesSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logalert.toml")
	if err := os.WriteFile(path, []byte(serviceTestConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	source := config.ConfigSource{File: path}
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	service, err := newService(source, cfg, logging.Discard(), clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(service.cleanupInitResources)

	next := serviceTestConfig + `
[condition.c2]
type = "field_content_value"
stream = "s1"

[condition.c2.parameters]
field = "level"
value = "WARN"
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("write next config: %v", err)
	}

	var readers sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = len(service.Config().Condition)
				}
			}
		}()
	}
	reloadErr := service.reloadConfig(context.Background())
	close(stop)
	readers.Wait()
	if reloadErr != nil {
		t.Fatalf("reload: %v", reloadErr)
	}

	if got := len(service.Config().Condition); got != 2 {
		t.Fatalf("expected reloaded snapshot with 2 conditions, got %d", got)
	}
	if ids := service.Manager().ConditionIDs(); !slices.Equal(ids, []string{"c1", "c2"}) {
		t.Fatalf("unexpected conditions after reload %v", ids)
	}
}

func TestReadyReportsAmbiguousWriteAlias(t *testing.T) {
	t.Parallel()

	service, baseURL := startTestService(t)
	set, _ := service.registry.Lookup("default")
	if err := set.Publish(indexset.Snapshot{
		Partitions:   []string{"logalert_0", "logalert_1"},
		WriteTargets: []string{"logalert_0", "logalert_1"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	resp, err := http.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with ambiguous write alias, got %d", resp.StatusCode)
	}
}
