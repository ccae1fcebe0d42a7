package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorTopics(t *testing.T) {
	m := NewMirror(NewMockPublisher(), "callpop/")
	assert.Equal(t, "callpop/operator/101/call_timer_started", m.Topic("101", "call_timer_started"))
}

func TestMirrorPublishesOperatorEnvelope(t *testing.T) {
	mock := NewMockPublisher()
	m := NewMirror(mock, "pbx")

	require.NoError(t, m.Operator(context.Background(), "101", "call_ended", []byte(`{"type":"call_ended"}`)))
	require.NoError(t, m.Operator(context.Background(), "205", "progressive_update", []byte(`{"stage":1}`)))

	msgs := mock.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "pbx/operator/101/call_ended", msgs[0].Topic)
	assert.JSONEq(t, `{"type":"call_ended"}`, string(msgs[0].Payload))
	assert.Equal(t, []string{"pbx/operator/101/call_ended", "pbx/operator/205/progressive_update"}, mock.Topics())
}

func TestMirrorRequiresOperatorAndType(t *testing.T) {
	mock := NewMockPublisher()
	m := NewMirror(mock, "pbx")

	assert.Error(t, m.Operator(context.Background(), "", "call_ended", nil))
	assert.Error(t, m.Operator(context.Background(), "101", "", nil))
	assert.Empty(t, mock.Messages())
}

func TestMirrorWrapsPublishError(t *testing.T) {
	mock := NewMockPublisher()
	brokerDown := errors.New("broker down")
	mock.SetError(brokerDown)

	err := NewMirror(mock, "pbx").Operator(context.Background(), "101", "call_ended", []byte("{}"))
	require.ErrorIs(t, err, brokerDown)
	assert.Contains(t, err.Error(), "call_ended for 101")
}

func TestMirrorClose(t *testing.T) {
	mock := NewMockPublisher()
	require.NoError(t, NewMirror(mock, "pbx").Close())
	assert.True(t, mock.Closed())
}

func TestMockPayloadIsCopied(t *testing.T) {
	mock := NewMockPublisher()
	payload := []byte("original")
	require.NoError(t, mock.Publish(context.Background(), "t", payload))

	payload[0] = 'X'
	assert.Equal(t, "original", string(mock.Messages()[0].Payload))
}

func TestMockParsesMirrorTopics(t *testing.T) {
	mock := NewMockPublisher()
	m := NewMirror(mock, "callpop")
	ctx := context.Background()

	require.NoError(t, m.Operator(ctx, "101", "progressive_update", []byte("{}")))
	require.NoError(t, m.Operator(ctx, "102", "call_ended", []byte("{}")))
	require.NoError(t, m.Operator(ctx, "101", "complete_customer_data", []byte("{}")))
	require.NoError(t, mock.Publish(ctx, "other", []byte("x")))

	assert.Equal(t, []string{"progressive_update", "complete_customer_data"}, mock.Types("101"))
	assert.Equal(t, []string{"call_ended"}, mock.Types("102"))

	last := mock.Messages()[3]
	assert.Empty(t, last.Operator)
	assert.Empty(t, last.Type)
}

func TestMockSetError(t *testing.T) {
	mock := NewMockPublisher()
	mock.SetError(errors.New("broker down"))
	require.Error(t, mock.Publish(context.Background(), "t", []byte("x")))
	assert.Empty(t, mock.Messages())

	mock.SetError(nil)
	require.NoError(t, mock.Publish(context.Background(), "t", []byte("y")))
	assert.Len(t, mock.Messages(), 1)
}
