package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// FieldMessage holds the human-readable log line.
	FieldMessage = "message"
	// FieldSource holds the emitting host or application.
	FieldSource = "source"
	// FieldTimestamp is the reserved event time field name.
	FieldTimestamp = "timestamp"
	// FieldStreams is the reserved stream membership field name.
	FieldStreams = "streams"
	// FieldID is the reserved record identifier field name.
	FieldID = "id"
)

var reservedFields = map[string]struct{}{
	FieldTimestamp: {},
	FieldStreams:   {},
	FieldID:        {},
}

// Message is one stored log record.
// Params: record id, event time, stream routing list, and free-form fields.
// Returns: immutable record handed to search backends.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Streams   []string       `json:"streams,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Field reads one field including reserved pseudo fields.
// Params: field name.
// Returns: field value and presence flag.
func (m Message) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return m.ID, m.ID != ""
	case FieldTimestamp:
		return m.Timestamp, !m.Timestamp.IsZero()
	case FieldStreams:
		return m.Streams, len(m.Streams) > 0
	}
	value, ok := m.Fields[name]
	return value, ok
}

// InStream reports stream membership.
// Params: stream id.
// Returns: true when record was routed into stream.
func (m Message) InStream(streamID string) bool {
	for _, id := range m.Streams {
		if id == streamID {
			return true
		}
	}
	return false
}

// Clone detaches record from caller-owned slices and maps.
// Params: none.
// Returns: deep-enough copy for read-only sharing.
func (m Message) Clone() Message {
	out := m
	out.Streams = append([]string(nil), m.Streams...)
	if m.Fields != nil {
		out.Fields = make(map[string]any, len(m.Fields))
		for key, value := range m.Fields {
			out.Fields[key] = value
		}
	}
	return out
}

// MessageSummary is one piece of alert evidence.
// Params: physical partition name and matched record.
// Returns: read-only summary attached to triggered verdicts.
type MessageSummary struct {
	Index   string  `json:"index"`
	Message Message `json:"message"`
}

// NewMessageSummary builds evidence item from backend record.
// Params: partition name and record.
// Returns: summary holding a detached record copy.
func NewMessageSummary(index string, message Message) MessageSummary {
	return MessageSummary{Index: index, Message: message.Clone()}
}

// Text returns the record's message field as string.
func (s MessageSummary) Text() string {
	value, _ := s.Message.Fields[FieldMessage].(string)
	return value
}

// Source returns the record's source field as string.
func (s MessageSummary) Source() string {
	value, _ := s.Message.Fields[FieldSource].(string)
	return value
}

// IncomingMessage is the ingest wire shape of one log record.
// Params: optional target index set, unix-ms event time, streams, and fields.
// Returns: validated payload converted by ToMessage.
type IncomingMessage struct {
	IndexSet string         `json:"index_set,omitempty"`
	ID       string         `json:"id,omitempty"`
	DT       int64          `json:"dt,omitempty"`
	Streams  []string       `json:"streams"`
	Fields   map[string]any `json:"fields"`
}

// DecodeMessage decodes and validates one ingest payload.
// Params: JSON document bytes.
// Returns: validated message or decode/validation error.
func DecodeMessage(raw []byte) (IncomingMessage, error) {
	var message IncomingMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return IncomingMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return IncomingMessage{}, err
	}
	return message, nil
}

// DecodeMessageReader decodes and validates one ingest payload from stream.
// Params: decoder positioned at one JSON object.
// Returns: validated message or decode/validation error.
func DecodeMessageReader(reader *json.Decoder) (IncomingMessage, error) {
	var message IncomingMessage
	if err := reader.Decode(&message); err != nil {
		return IncomingMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return IncomingMessage{}, err
	}
	return message, nil
}

// DecodeMessagesReader decodes and validates one batch of ingest payloads.
// Params: decoder positioned at one JSON array.
// Returns: validated messages or decode/validation error.
func DecodeMessagesReader(reader *json.Decoder) ([]IncomingMessage, error) {
	var messages []IncomingMessage
	if err := reader.Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode message batch: %w", err)
	}
	if len(messages) == 0 {
		return nil, errors.New("message batch must contain at least one message")
	}
	for i := range messages {
		if err := messages[i].Validate(); err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}
	}
	return messages, nil
}

// Validate checks ingest payload contract.
// Params: decoded payload.
// Returns: validation error when contract is violated.
func (m IncomingMessage) Validate() error {
	if m.DT < 0 {
		return errors.New("dt must be >=0")
	}
	if len(m.Fields) == 0 {
		return errors.New("fields are required")
	}
	text, ok := m.Fields[FieldMessage].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return errors.New("fields.message must be a non-empty string")
	}
	for name := range m.Fields {
		if strings.TrimSpace(name) == "" {
			return errors.New("field names must not be empty")
		}
		if _, reserved := reservedFields[name]; reserved {
			return fmt.Errorf("field %q is reserved", name)
		}
	}
	for i, stream := range m.Streams {
		if strings.TrimSpace(stream) == "" {
			return fmt.Errorf("streams[%d] is empty", i)
		}
	}
	return nil
}

// ToMessage converts payload into stored record.
// Params: receive time used when dt is absent and id generator for missing ids.
// Returns: record ready for backend append.
func (m IncomingMessage) ToMessage(receivedAt time.Time, newID func() string) Message {
	timestamp := receivedAt.UTC()
	if m.DT > 0 {
		timestamp = time.UnixMilli(m.DT).UTC()
	}
	id := strings.TrimSpace(m.ID)
	if id == "" && newID != nil {
		id = newID()
	}
	return Message{
		ID:        id,
		Timestamp: timestamp,
		Streams:   append([]string(nil), m.Streams...),
		Fields:    m.Fields,
	}.Clone()
}
