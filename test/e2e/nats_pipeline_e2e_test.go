package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"logalert/internal/config"
	"logalert/internal/domain"
	"logalert/internal/publish"
	"logalert/internal/state"
	"logalert/test/testutil"
)

func TestNATSPipelineIngestEvaluatePublish(t *testing.T) {
	if testing.Short() {
		t.Skip("requires nats-server")
	}
	t.Parallel()

	url, _ := testutil.StartLocalNATSServer(t)
	running, _ := startService(t, fmt.Sprintf(`[service]
name = "e2e"
mode = "nats"

%s

[http]
listen = "127.0.0.1:0"

[nats]
url = [%q]

[nats.ingest]
enabled = true

[nats.verdicts]
enabled = true

[condition.errors]
id = "c1"
type = "field_content_value"
stream = "s1"
stream_title = "Payments"

[condition.errors.parameters]
field = "level"
value = "ERROR"
backlog = 2
`, quietLog, url))

	js := testutil.JetStream(t, url)
	payload := fmt.Sprintf(`{"streams":["s1"],"dt":%d,"fields":{"message":"payment failed","level":"ERROR"}}`, time.Now().UnixMilli())
	if _, err := js.Publish("logalert.messages", []byte(payload)); err != nil {
		t.Fatalf("publish message: %v", err)
	}

	evaluation := waitForOutcome(t, running.service, "c1", domain.OutcomeTriggered)
	if len(evaluation.Result.Summaries) != 1 {
		t.Fatalf("expected one evidence message, got %d", len(evaluation.Result.Summaries))
	}

	raw, err := js.GetLastMsg("LOGALERT_VERDICTS", "logalert.verdicts.c1")
	if err != nil {
		t.Fatalf("get verdict: %v", err)
	}
	var envelope publish.Envelope
	if err := json.Unmarshal(raw.Data, &envelope); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if envelope.Service != "e2e" || envelope.Result.Condition.ID != "c1" || envelope.Result.Outcome != domain.OutcomeTriggered {
		t.Fatalf("unexpected verdict envelope %+v", envelope)
	}
	if envelope.ID != publish.BuildEnvelopeID(envelope.Result) {
		t.Fatalf("envelope id does not match result")
	}

	cfg, err := config.Parse([]byte(fmt.Sprintf("[service]\nmode = \"nats\"\n[nats]\nurl = [%q]\n[condition.x]\ntype = \"t\"\nstream = \"s\"\n", url)))
	if err != nil {
		t.Fatalf("parse store config: %v", err)
	}
	store, err := state.NewNATSStore(cfg.NATS)
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	defer func() { _ = store.Close() }()
	record, _, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get condition state: %v", err)
	}
	if record.LastOutcome != domain.OutcomeTriggered || record.LastTriggeredAt == nil {
		t.Fatalf("unexpected condition state %+v", record)
	}
}
