package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPayload marks a record without the change substructure
	ErrMissingPayload = errors.New("record has no change payload")
	// ErrUnrecognizedOperation marks a record whose label is not INSERT, MODIFY or REMOVE
	ErrUnrecognizedOperation = errors.New("unrecognized operation")
)

// SkipReason tells why a record was excluded from dispatch
type SkipReason string

const (
	ReasonMissingPayload        SkipReason = "missing_payload"
	ReasonUnrecognizedOperation SkipReason = "unrecognized_operation"
	ReasonFiltered              SkipReason = "filtered"
	ReasonUnserializable        SkipReason = "unserializable"
)

// SkipError is the skip signal returned by Classify. Skips never abort a batch.
type SkipError struct {
	EventID string
	Label   string
	Reason  SkipReason
	Err     error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip record %q (%s): %v", e.EventID, e.Label, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// Classify inspects a raw record and returns the ChangeRecord to dispatch,
// or a *SkipError when the record must be excluded.
func Classify(raw RawRecord) (ChangeRecord, error) {
	if raw.Change == nil {
		return ChangeRecord{}, &SkipError{
			EventID: raw.EventID,
			Label:   raw.EventName,
			Reason:  ReasonMissingPayload,
			Err:     ErrMissingPayload,
		}
	}

	op := ParseOperation(raw.EventName)
	if op == OpUnknown {
		return ChangeRecord{}, &SkipError{
			EventID: raw.EventID,
			Label:   raw.EventName,
			Reason:  ReasonUnrecognizedOperation,
			Err:     ErrUnrecognizedOperation,
		}
	}

	return ChangeRecord{
		EventID:         raw.EventID,
		Operation:       op,
		Label:           op.Label(),
		SourceARN:       raw.EventSourceARN,
		Payload:         *raw.Change,
		MissingNewImage: op == OpChanged && raw.Change.NewImage == nil,
	}, nil
}
