package types

import "encoding/json"

// Push event names.
const (
	EventMessage       = "message"
	EventError         = "error"
	EventAgentStatus   = "agent_status"
	EventTaskProgress  = "task_progress"
	EventCommandResult = "command_result"
	EventErrorEvent    = "error_event"
)

var knownEvents = map[string]bool{
	EventMessage:       true,
	EventError:         true,
	EventAgentStatus:   true,
	EventTaskProgress:  true,
	EventCommandResult: true,
	EventErrorEvent:    true,
}

func IsKnownEvent(name string) bool {
	return knownEvents[name]
}

// Envelope is one push-channel frame: a named event and its payload.
type Envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload under event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}
