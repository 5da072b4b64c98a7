package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/maxpert/fanout/publisher"
	"github.com/maxpert/fanout/stream"
	"github.com/rs/zerolog/log"
)

// Inbound batches are capped at the size of a stream trigger payload
const maxBatchBytes = 6 << 20

// BatchProcessor dispatches one inbound batch
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []stream.RawRecord) (publisher.BatchOutcome, error)
}

// DeadLetterReplayer drains visible dead letters
type DeadLetterReplayer interface {
	Replay(ctx context.Context, limit int) (publisher.ReplayOutcome, error)
}

// Handlers serves the dispatcher HTTP endpoints
type Handlers struct {
	batches  BatchProcessor
	replayer DeadLetterReplayer // nil when the queue is drained externally
}

// NewHandlers creates handlers over a batch processor and an optional replayer
func NewHandlers(batches BatchProcessor, replayer DeadLetterReplayer) *Handlers {
	return &Handlers{batches: batches, replayer: replayer}
}

// writeJSONResponse writes data as JSON with a 200 status
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// handleBatch accepts a change-stream batch and returns its outcome
func (h *Handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	var batch stream.Batch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err := dec.Decode(&batch); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid batch: "+err.Error())
		return
	}

	// A client that disconnects mid-batch must not abort the remaining records
	outcome, err := h.batches.ProcessBatch(context.WithoutCancel(r.Context()), batch.Records)
	if errors.Is(err, publisher.ErrEmptyBatch) {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Batch processing failed")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, outcome)
}

// handleReplay drains up to ?limit= visible dead letters
func (h *Handlers) handleReplay(w http.ResponseWriter, r *http.Request) {
	if h.replayer == nil {
		writeErrorResponse(w, http.StatusNotImplemented, "dead letter queue does not support replay")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.replayer.Replay(context.WithoutCancel(r.Context()), limit)
	if err != nil {
		log.Error().Err(err).Msg("Dead letter replay failed")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, outcome)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"})
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return publisher.DefaultReplayLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit, nil
}
