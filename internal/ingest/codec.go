package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"logalert/internal/domain"
)

const maxPooledBatchCapacity = 4096

type decodeScratch struct {
	messages []domain.IncomingMessage
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{messages: make([]domain.IncomingMessage, 0, 16)}
	},
}

// decodePayloadInto auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array, and reusable scratch.
// Returns: validated messages backed by scratch storage.
func decodePayloadInto(raw []byte, scratch *decodeScratch) ([]domain.IncomingMessage, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchInto(decoder, scratch)
	}
	message, err := domain.DecodeMessageReader(decoder)
	if err != nil {
		return nil, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	messages := append(scratch.messages[:0], message)
	scratch.messages = messages
	return messages, nil
}

func decodeBatchInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.IncomingMessage, error) {
	messages := scratch.messages[:0]
	if err := decoder.Decode(&messages); err != nil {
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
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.messages = messages
	return messages, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.messages {
		scratch.messages[i] = domain.IncomingMessage{}
	}
	if cap(scratch.messages) > maxPooledBatchCapacity {
		scratch.messages = make([]domain.IncomingMessage, 0, 16)
	} else {
		scratch.messages = scratch.messages[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
