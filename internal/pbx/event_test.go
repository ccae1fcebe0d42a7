package pbx

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventExtension(t *testing.T) {
	tests := []struct {
		entity string
		want   string
	}{
		{"/callcontrol/101/participants/7", "101"},
		{"/callcontrol/10001/participants/12", "10001"},
		{"/callcontrol", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Event{Entity: tt.entity}.Extension(), tt.entity)
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"sequence": 42, "event": {"entity": "/callcontrol/101/participants/7", "event_type": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.Sequence)
	assert.Equal(t, EventRemove, msg.Event.Type)
	assert.Equal(t, "101", msg.Event.Extension())

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDetailCallIDForms(t *testing.T) {
	var numeric, quoted, missing Detail
	require.NoError(t, json.Unmarshal([]byte(`{"callid": 9912, "status": "Ringing"}`), &numeric))
	require.NoError(t, json.Unmarshal([]byte(`{"callid": "9912", "status": "Connected", "party_dn": "205"}`), &quoted))
	require.NoError(t, json.Unmarshal([]byte(`{"callid": null}`), &missing))

	assert.Equal(t, CallID("9912"), numeric.CallID)
	assert.Equal(t, StatusRinging, numeric.Status)
	assert.Equal(t, CallID("9912"), quoted.CallID)
	assert.Equal(t, "205", quoted.PartyExtension)
	assert.Equal(t, CallID(""), missing.CallID)
}

func TestParserSkipsBlankAndMalformedLines(t *testing.T) {
	data := []byte(`# capture header
{"sequence": 1, "event": {"entity": "/callcontrol/101/participants/1", "event_type": 0}}

garbage line
{"sequence": 2, "event": {"entity": "/callcontrol/101/participants/1", "event_type": 1}}
`)
	msgs := ParseBytes(data)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].Sequence)
	assert.Equal(t, EventUpsert, msgs[0].Event.Type)
	assert.Equal(t, int64(2), msgs[1].Sequence)
}

func TestParseCapturesKeepsDetail(t *testing.T) {
	data := []byte(`{"sequence": 7, "event": {"entity": "/callcontrol/101/participants/3", "event_type": 0}, "detail": {"dn": "101", "callid": 55, "status": "Ringing", "party_caller_id": "+15551234567"}}
{"sequence": 8, "event": {"entity": "/callcontrol/101/participants/3", "event_type": 1}}
`)
	captures := ParseCaptures(data)
	require.Len(t, captures, 2)

	assert.Equal(t, int64(7), captures[0].Sequence)
	require.NotNil(t, captures[0].Detail)
	assert.Equal(t, CallID("55"), captures[0].Detail.CallID)
	assert.Equal(t, "+15551234567", captures[0].Detail.CallerNumber)
	assert.Nil(t, captures[1].Detail)
	assert.Equal(t, EventRemove, captures[1].Event.Type)
}

func TestCursorRejectsReplays(t *testing.T) {
	var c Cursor
	assert.True(t, c.Accept(1))
	assert.True(t, c.Accept(5))
	assert.False(t, c.Accept(5))
	assert.False(t, c.Accept(3))
	assert.True(t, c.Accept(6))
	assert.Equal(t, int64(6), c.Value())
}
