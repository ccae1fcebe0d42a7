package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callpop/internal/pbx"
)

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "+55555554567", maskNumber("+15551234567"))
	assert.Equal(t, "(555) 555-4567", maskNumber("(555) 123-4567"))
	assert.Equal(t, "123", maskNumber("123"))
	assert.Equal(t, "", maskNumber(""))
}

func TestSanitizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	original := `# captured 2026-10-01
{"sequence": 1, "event": {"entity": "/callcontrol/101/participants/1", "event_type": 0}, "detail": {"id": 1, "dn": "101", "party_caller_name": "Jane Doe", "party_caller_id": "+15551234567", "party_dn": "10001", "callid": 9001, "status": "Ringing"}}
{"sequence": 2, "event": {"entity": "/callcontrol/101/participants/1", "event_type": 1}}
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	require.NoError(t, sanitizeFile(path))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, original, string(bak))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	caps := []pbx.Capture{}
	p := pbx.NewParser(f)
	for {
		c, ok := p.NextCapture()
		if !ok {
			break
		}
		caps = append(caps, c)
	}
	require.Len(t, caps, 2)
	require.NotNil(t, caps[0].Detail)
	assert.Equal(t, "+55555554567", caps[0].Detail.CallerNumber)
	assert.Equal(t, "Test Caller", caps[0].Detail.CallerName)
	assert.Equal(t, pbx.CallID("9001"), caps[0].Detail.CallID)
	assert.Equal(t, "10001", caps[0].Detail.PartyExtension)
	assert.Nil(t, caps[1].Detail)
	assert.Equal(t, pbx.EventRemove, caps[1].Event.Type)
}
