package bridge

import (
	json "github.com/goccy/go-json"

	"github.com/sweeney/callpop/internal/aggregate"
)

// Envelope types sent to operators.
const (
	TypeProgressiveUpdate    = "progressive_update"
	TypeCompleteCustomerData = "complete_customer_data"
	TypeCallTimerStarted     = "call_timer_started"
	TypeCallTimerEnded       = "call_timer_ended"
	TypeCallEnded            = "call_ended"
	TypeCallNotification     = "call_notification"
)

// Header is common to every operator envelope.
type Header struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ProgressiveUpdate carries the aggregate as of one pipeline stage.
// NotFound means the caller matched no customer; Degraded means the
// lookup stopped because a provider failed.
type ProgressiveUpdate struct {
	Header
	CallID      string              `json:"callId"`
	Operator    string              `json:"operator"`
	Stage       int                 `json:"stage"`
	PhoneNumber string              `json:"phoneNumber"`
	CallerName  string              `json:"callerName,omitempty"`
	Data        aggregate.Aggregate `json:"data"`
	NotFound    bool                `json:"notFound"`
	Degraded    bool                `json:"degraded,omitempty"`
	Final       bool                `json:"final"`
}

// CompleteCustomerData is the finished aggregate, sent once per call and
// operator. Data is the exact cached encoding.
type CompleteCustomerData struct {
	Header
	CallID      string          `json:"callId"`
	Operator    string          `json:"operator"`
	PhoneNumber string          `json:"phoneNumber"`
	Cached      bool            `json:"cached"`
	Data        json.RawMessage `json:"data"`
}

// CallTimerStarted tells the operator the call connected.
type CallTimerStarted struct {
	Header
	CallID    string `json:"callId"`
	Operator  string `json:"operator"`
	StartedAt string `json:"startedAt"`
}

// CallTimerEnded closes a running call timer.
type CallTimerEnded struct {
	Header
	CallID          string `json:"callId"`
	Operator        string `json:"operator"`
	DurationSeconds int64  `json:"durationSeconds"`
}

// CallEnded reports a call that ended without a running timer. CallID
// is empty when the end could not be tied to a call.
type CallEnded struct {
	Header
	CallID   string `json:"callId,omitempty"`
	Operator string `json:"operator"`
}

// CallNotification is the single combined message older operator
// clients expect once customer data is complete.
type CallNotification struct {
	Header
	CallID       string          `json:"callId"`
	Operator     string          `json:"operator"`
	PhoneNumber  string          `json:"phoneNumber"`
	CallerName   string          `json:"callerName,omitempty"`
	CustomerData json.RawMessage `json:"customerData"`
}
