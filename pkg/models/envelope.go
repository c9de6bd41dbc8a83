package models

import (
	"encoding/json"
	"time"
)

const (
	EventNewWorkItem = "new_workitem"
)

const (
	SourceSocket   = "websocket"
	SourceSSE      = "sse"
	SourcePoll     = "poll"
	SourceIdentity = "identity_poll"
	SourceBroker   = "broker"
)

// EventEnvelope is the frame shared by the socket, SSE and broker transports.
type EventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WorkItemData is the wire form of a work item inside an envelope or a poll
// response. ID stays raw because backends send it as a number or a string.
type WorkItemData struct {
	ID              json.RawMessage   `json:"id"`
	SubmissionID    json.RawMessage   `json:"submission_id,omitempty"`
	SubmissionRef   string            `json:"submission_ref,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	FromEmail       *string           `json:"from_email,omitempty"`
	CreatedAt       string            `json:"created_at,omitempty"`
	Status          string            `json:"status,omitempty"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`

	Owner            *string `json:"owner,omitempty"`
	Type             *string `json:"type,omitempty"`
	Priority         *string `json:"priority,omitempty"`
	GWPCStatus       *string `json:"gwpc_status,omitempty"`
	Indicated        *bool   `json:"indicated,omitempty"`
	AutomationStatus *string `json:"automation_status,omitempty"`
	ExposureStatus   *string `json:"exposure_status,omitempty"`
}

// PollResponse is returned by the cursor poll endpoint.
type PollResponse struct {
	Items     []WorkItemData `json:"items"`
	Timestamp string         `json:"timestamp"`
}

// NewWorkItemEnvelope wraps data into a new_workitem envelope. Pollers use it
// so every transport feeds the ingestor the same frame.
func NewWorkItemEnvelope(data WorkItemData) (EventEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{Event: EventNewWorkItem, Data: raw}, nil
}

// Notification is what the notification sinks receive.
type Notification struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	WorkItemID string    `json:"work_item_id,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	NotificationNewWorkItem     = "new_workitem"
	NotificationConnectionError = "connection_error"
)
