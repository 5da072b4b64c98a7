package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testARN = "arn:aws:dynamodb:us-east-1:123456789012:table/orders/stream/2024-01-01T00:00:00.000"

func record(id, label string, change *StreamRecord) RawRecord {
	return RawRecord{
		EventID:        id,
		EventName:      label,
		EventSource:    "aws:dynamodb",
		EventSourceARN: testARN,
		Change:         change,
	}
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		label string
		want  Operation
	}{
		{"INSERT", OpCreated},
		{"MODIFY", OpChanged},
		{"REMOVE", OpRemoved},
		{"UPSERT", OpUnknown},
		{"insert", OpUnknown},
		{" INSERT", OpUnknown},
		{"", OpUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOperation(tt.label))
		})
	}
}

func TestOperationLabelRoundTrip(t *testing.T) {
	for _, op := range []Operation{OpCreated, OpChanged, OpRemoved} {
		assert.Equal(t, op, ParseOperation(op.Label()))
	}
	assert.Equal(t, "", OpUnknown.Label())
	assert.Equal(t, "unknown", OpUnknown.String())
}

func TestClassify_RecognizedOperations(t *testing.T) {
	change := &StreamRecord{
		Keys:     map[string]any{"id": map[string]any{"S": "o-1"}},
		NewImage: map[string]any{"id": map[string]any{"S": "o-1"}, "total": map[string]any{"N": "42"}},
	}

	for _, label := range []string{LabelInsert, LabelModify, LabelRemove} {
		t.Run(label, func(t *testing.T) {
			rec, err := Classify(record("evt-1", label, change))
			require.NoError(t, err)

			assert.Equal(t, "evt-1", rec.EventID)
			assert.Equal(t, label, rec.Label)
			assert.Equal(t, ParseOperation(label), rec.Operation)
			assert.Equal(t, testARN, rec.SourceARN)
			assert.Equal(t, change.Keys, rec.Payload.Keys)
			assert.False(t, rec.MissingNewImage)
		})
	}
}

func TestClassify_ModifyWithoutNewImageIsFlagged(t *testing.T) {
	change := &StreamRecord{
		Keys:     map[string]any{"id": map[string]any{"S": "o-1"}},
		OldImage: map[string]any{"id": map[string]any{"S": "o-1"}},
	}

	rec, err := Classify(record("evt-2", LabelModify, change))
	require.NoError(t, err)
	assert.True(t, rec.MissingNewImage)
	assert.Equal(t, OpChanged, rec.Operation)
}

func TestClassify_RemoveWithoutNewImageIsNotFlagged(t *testing.T) {
	rec, err := Classify(record("evt-3", LabelRemove, &StreamRecord{OldImage: map[string]any{"a": 1}}))
	require.NoError(t, err)
	assert.False(t, rec.MissingNewImage)
}

func TestClassify_MissingPayload(t *testing.T) {
	_, err := Classify(record("evt-4", LabelInsert, nil))
	require.Error(t, err)

	var skip *SkipError
	require.True(t, errors.As(err, &skip))
	assert.Equal(t, ReasonMissingPayload, skip.Reason)
	assert.Equal(t, "evt-4", skip.EventID)
	assert.True(t, errors.Is(err, ErrMissingPayload))
}

func TestClassify_UnrecognizedOperation(t *testing.T) {
	_, err := Classify(record("evt-5", "UPSERT", &StreamRecord{}))
	require.Error(t, err)

	var skip *SkipError
	require.True(t, errors.As(err, &skip))
	assert.Equal(t, ReasonUnrecognizedOperation, skip.Reason)
	assert.Equal(t, "UPSERT", skip.Label)
	assert.True(t, errors.Is(err, ErrUnrecognizedOperation))
}

func TestBatchDecoding(t *testing.T) {
	payload := `{
		"Records": [
			{
				"eventID": "1",
				"eventName": "INSERT",
				"eventSource": "aws:dynamodb",
				"eventSourceARN": "` + testARN + `",
				"awsRegion": "us-east-1",
				"dynamodb": {
					"Keys": {"id": {"S": "o-1"}},
					"NewImage": {"id": {"S": "o-1"}},
					"SequenceNumber": "111",
					"SizeBytes": 26,
					"StreamViewType": "NEW_AND_OLD_IMAGES"
				}
			},
			{"eventID": "2", "eventName": "REMOVE"}
		]
	}`

	var batch Batch
	require.NoError(t, json.Unmarshal([]byte(payload), &batch))
	require.Len(t, batch.Records, 2)

	first := batch.Records[0]
	require.NotNil(t, first.Change)
	assert.Equal(t, "111", first.Change.SequenceNumber)
	assert.Equal(t, int64(26), first.Change.SizeBytes)
	assert.Equal(t, "us-east-1", first.AWSRegion)

	assert.Nil(t, batch.Records[1].Change)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "orders", TableName(testARN))
	assert.Equal(t, "users", TableName("arn:aws:dynamodb:eu-west-1:1:table/users"))
	assert.Equal(t, "", TableName("arn:aws:kinesis:eu-west-1:1:stream/foo"))
	assert.Equal(t, "", TableName(""))
}
