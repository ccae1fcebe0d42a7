package pbx

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// EventType is the PBX transition class carried by a stream message.
type EventType int

const (
	// EventUpsert is reported when an entity is created or changes state
	// (ringing, connected).
	EventUpsert EventType = 0
	// EventRemove is reported when an entity goes away (call leg ended).
	EventRemove EventType = 1
)

// Detail status values reported by the PBX.
const (
	StatusRinging   = "Ringing"
	StatusConnected = "Connected"
)

// Event identifies the PBX entity a transition concerns.
type Event struct {
	Entity string    `json:"entity"`
	Type   EventType `json:"event_type"`
}

// Message is one frame of the PBX event stream.
type Message struct {
	Sequence int64 `json:"sequence"`
	Event    Event `json:"event"`
}

// Extension returns the reporting extension encoded in the entity path,
// e.g. "101" for "/callcontrol/101/participants/7".
func (e Event) Extension() string {
	parts := strings.Split(e.Entity, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Decode parses a single stream frame.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// CallID is a provider-assigned call identifier. The PBX reports it either
// as a number or a string; both decode to the same text form.
type CallID string

func (c *CallID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*c = CallID(s)
		return nil
	}
	*c = CallID(data)
	return nil
}

// Detail is the on-demand record the PBX returns for an entity.
type Detail struct {
	Extension      string `json:"dn"`
	CallerName     string `json:"party_caller_name"`
	CallerNumber   string `json:"party_caller_id"`
	PartyExtension string `json:"party_dn"`
	CallID         CallID `json:"callid"`
	Status         string `json:"status"`
}
