package natsconn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect opens one named NATS connection with JetStream context.
// Params: server URL list and connection name.
// Returns: connection, JetStream context, or setup error.
func Connect(urls []string, name string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(strings.Join(urls, ","), nats.Name(name))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", name, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream init for %s: %w", name, err)
	}
	return nc, js, nil
}

// EnsureStream creates one JetStream stream when absent.
// Params: JetStream context, stream name, subject filter, retention, and max age.
// Returns: stream create/lookup error.
func EnsureStream(js nats.JetStreamContext, streamName, subject string, retention nats.RetentionPolicy, maxAge time.Duration) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

// SubjectToken converts free-form identifier into one NATS subject token.
// Params: raw identifier.
// Returns: token with separators and wildcards replaced by '_'.
func SubjectToken(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		default:
			return r
		}
	}, trimmed)
}
