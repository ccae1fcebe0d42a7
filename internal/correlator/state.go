package correlator

import (
	"slices"
	"time"
)

// CallState represents the lifecycle state of a call session.
type CallState string

const (
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
	StateEnded     CallState = "ended"
)

// Kind classifies an incoming PBX transition.
type Kind int

const (
	KindOther Kind = iota
	KindRinging
	KindConnected
	KindEnded
)

func (k Kind) String() string {
	switch k {
	case KindRinging:
		return "ringing"
	case KindConnected:
		return "connected"
	case KindEnded:
		return "ended"
	default:
		return "other"
	}
}

// Input is one PBX transition with whatever detail could be resolved.
type Input struct {
	Kind           Kind
	Entity         string
	Extension      string // reporting extension, from the entity path
	PartyExtension string // trunk party extension, if reported
	CallID         string
	CallerNumber   string
	CallerName     string
	At             time.Time
}

// Session is one logical call directed at one operator.
type Session struct {
	CallID       string    `json:"callId"`
	Operator     string    `json:"operator"`
	CallerNumber string    `json:"callerNumber,omitempty"`
	CallerName   string    `json:"callerName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	State        CallState `json:"state"`

	// RungBy lists every operator already notified of this call ringing.
	RungBy []string `json:"rungBy,omitempty"`

	// Timer fields are set once the call connects to a live operator.
	TimerEntity     string    `json:"timerEntity,omitempty"`
	TimerStartedAt  time.Time `json:"timerStartedAt,omitempty"`
	SuppressNextEnd bool      `json:"suppressNextEnd"`
	SuppressUntil   time.Time `json:"suppressUntil,omitempty"`
}

// HasRung reports whether operator was already notified of this call ringing.
func (s Session) HasRung(operator string) bool {
	return slices.Contains(s.RungBy, operator)
}

// TimerRunning reports whether the call-duration timer has started.
func (s Session) TimerRunning() bool {
	return !s.TimerStartedAt.IsZero()
}

// ActionType is what the correlator decided to do with an Input.
type ActionType string

const (
	ActionNone         ActionType = "none"
	ActionRinging      ActionType = "ringing"
	ActionTimerStarted ActionType = "timer_started"
	ActionSuppressed   ActionType = "suppressed"
	ActionTimerEnded   ActionType = "timer_ended"
	ActionCallEnded    ActionType = "call_ended"
)

// Action is emitted by the correlator for each processed Input.
type Action struct {
	Type         ActionType
	CallID       string
	Operator     string
	CallerNumber string
	CallerName   string
	StartedAt    time.Time
	Duration     time.Duration
	Reason       string
}
