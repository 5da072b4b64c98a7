package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxpert/fanout/stream"
)

// EventTemplate holds the fixed fields stamped on every dispatched event
type EventTemplate struct {
	Source    string
	Resources []string
	BusName   string
}

// NewDispatchEvent builds the bus event for a classified record.
// Fails when the payload cannot be serialized.
func NewDispatchEvent(rec stream.ChangeRecord, tmpl EventTemplate, now time.Time) (DispatchEvent, error) {
	detail, err := json.Marshal(rec.Payload)
	if err != nil {
		return DispatchEvent{}, fmt.Errorf("failed to serialize payload of record %s: %w", rec.EventID, err)
	}

	resources := make([]string, len(tmpl.Resources))
	copy(resources, tmpl.Resources)

	return DispatchEvent{
		EventID:    rec.EventID,
		Source:     tmpl.Source,
		Resources:  resources,
		DetailType: rec.Operation.Label(),
		Detail:     detail,
		Time:       now,
		BusName:    tmpl.BusName,
	}, nil
}
