package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxpert/fanout/publisher"
	"github.com/maxpert/fanout/publisher/deadletter"
	"github.com/maxpert/fanout/publisher/sink"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestRunBatchFileErrors(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	assert.Equal(t, 1, runBatchFile(nil, filepath.Join(dir, "missing.json"), &out))

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o644))
	assert.Equal(t, 1, runBatchFile(nil, broken, &out))
	assert.Empty(t, out.String())
}

func TestRunBatchFile(t *testing.T) {
	bus := &sink.MockBus{}
	queue := &deadletter.MockQueue{}
	dispatcher, err := publisher.NewDispatcher(publisher.DispatcherConfig{
		Bus:         bus,
		DeadLetters: queue,
		Template: publisher.EventTemplate{
			Source:  "operations.aws.dynamodb",
			BusName: "orders-bus",
		},
		Retry: publisher.RetryPolicy{MaxAttempts: 1},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Records":[
		{"eventID":"1","eventName":"INSERT","dynamodb":{"Keys":{"id":{"S":"1"}}}},
		{"eventID":"2","eventName":"UPSERT","dynamodb":{"Keys":{"id":{"S":"2"}}}}
	]}`), 0o644))

	var out bytes.Buffer
	require.Equal(t, 0, runBatchFile(dispatcher, path, &out))

	var outcome publisher.BatchOutcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	assert.Equal(t, publisher.BatchOutcome{Total: 2, Succeeded: 1, Skipped: 1}, outcome)
	assert.Len(t, bus.Published(), 1)
	assert.Empty(t, queue.Enqueued())
}

func TestRunBatchFileEmpty(t *testing.T) {
	dispatcher, err := publisher.NewDispatcher(publisher.DispatcherConfig{
		Bus:         &sink.MockBus{},
		DeadLetters: &deadletter.MockQueue{},
		Template:    publisher.EventTemplate{Source: "s", BusName: "b"},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Records":[]}`), 0o644))

	var out bytes.Buffer
	assert.Equal(t, 1, runBatchFile(dispatcher, path, &out))
}
