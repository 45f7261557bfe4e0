package ingest

import (
	"errors"
	"io"
	"net/http"

	"logalert/internal/indexset"
	"logalert/internal/metrics"
)

// SourceHTTP labels records received by the HTTP endpoint.
const SourceHTTP = "http"

// HTTPHandler decodes JSON messages and forwards them to sink.
// Params: sink receives validated messages, max body limits payload size.
// Returns: HTTP handler for ingest endpoint.
type HTTPHandler struct {
	sink        Sink
	maxBodySize int64
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink Sink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one single-object or array ingest request.
// Params: HTTP request/response writer pair.
// Returns: 202 on success, 400 on bad payload or set, 409 on ambiguous write target, 503 otherwise.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writer.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	messages, err := decodePayloadInto(body, scratch)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(SourceHTTP, "invalid").Inc()
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.sink.Ingest(request.Context(), SourceHTTP, messages); err != nil {
		switch {
		case errors.Is(err, ErrUnknownIndexSet):
			http.Error(writer, err.Error(), http.StatusBadRequest)
		case errors.Is(err, indexset.ErrTooManyAliases):
			http.Error(writer, err.Error(), http.StatusConflict)
		default:
			writer.WriteHeader(http.StatusServiceUnavailable)
		}
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
