// Package stream models change records delivered by a DynamoDB-style change
// stream and classifies them into operations the dispatcher understands.
package stream

import (
	"strings"
)

// Operation is the closed set of change kinds carried by a stream record
type Operation uint8

const (
	OpUnknown Operation = iota
	OpCreated
	OpChanged
	OpRemoved
)

// Stream labels for each operation
const (
	LabelInsert = "INSERT"
	LabelModify = "MODIFY"
	LabelRemove = "REMOVE"
)

// ParseOperation maps a stream label to an Operation by exact match.
// Any other label yields OpUnknown.
func ParseOperation(label string) Operation {
	switch label {
	case LabelInsert:
		return OpCreated
	case LabelModify:
		return OpChanged
	case LabelRemove:
		return OpRemoved
	default:
		return OpUnknown
	}
}

// Label returns the stream label for the operation, empty for OpUnknown
func (o Operation) Label() string {
	switch o {
	case OpCreated:
		return LabelInsert
	case OpChanged:
		return LabelModify
	case OpRemoved:
		return LabelRemove
	default:
		return ""
	}
}

func (o Operation) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// StreamRecord is the before/after state carried under the "dynamodb" key
type StreamRecord struct {
	ApproximateCreationDateTime float64        `json:"ApproximateCreationDateTime,omitempty"`
	Keys                        map[string]any `json:"Keys,omitempty"`
	NewImage                    map[string]any `json:"NewImage,omitempty"`
	OldImage                    map[string]any `json:"OldImage,omitempty"`
	SequenceNumber              string         `json:"SequenceNumber,omitempty"`
	SizeBytes                   int64          `json:"SizeBytes,omitempty"`
	StreamViewType              string         `json:"StreamViewType,omitempty"`
}

// RawRecord is one entry of an inbound batch, as delivered by the stream
type RawRecord struct {
	EventID        string        `json:"eventID"`
	EventName      string        `json:"eventName"`
	EventVersion   string        `json:"eventVersion,omitempty"`
	EventSource    string        `json:"eventSource,omitempty"`
	EventSourceARN string        `json:"eventSourceARN,omitempty"`
	AWSRegion      string        `json:"awsRegion,omitempty"`
	Change         *StreamRecord `json:"dynamodb,omitempty"`
}

// Batch is the envelope an inbound delivery wraps records in
type Batch struct {
	Records []RawRecord `json:"Records"`
}

// ChangeRecord is a classified record ready for dispatch. It is never
// mutated after Classify returns it.
type ChangeRecord struct {
	EventID         string
	Operation       Operation
	Label           string
	SourceARN       string
	Payload         StreamRecord
	MissingNewImage bool // MODIFY without a new image; dispatched anyway
}

// TableName extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>.
// Returns the empty string when the ARN carries no table segment.
func TableName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
