package sink

import (
	"encoding/json"
	"time"

	"github.com/maxpert/fanout/publisher"
)

// envelope is the wire form used by buses without native event fields.
// Field names mirror the EventBridge event structure.
type envelope struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Resources    []string        `json:"resources"`
	DetailType   string          `json:"detail-type"`
	Detail       json.RawMessage `json:"detail"`
	Time         time.Time       `json:"time"`
	EventBusName string          `json:"eventBusName"`
}

func encodeEnvelope(event publisher.DispatchEvent) ([]byte, error) {
	return json.Marshal(envelope{
		ID:           event.EventID,
		Source:       event.Source,
		Resources:    event.Resources,
		DetailType:   event.DetailType,
		Detail:       json.RawMessage(event.Detail),
		Time:         event.Time.UTC(),
		EventBusName: event.BusName,
	})
}
