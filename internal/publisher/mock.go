package publisher

import (
	"context"
	"strings"
	"sync"
)

// Message is one publish seen by a MockPublisher. Operator and Type are
// parsed from mirror topics and are empty for any other topic.
type Message struct {
	Topic    string
	Operator string
	Type     string
	Payload  []byte
}

// MockPublisher stands in for the MQTT broker in tests.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	err      error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	if parts := strings.Split(topic, "/"); len(parts) >= 4 && parts[len(parts)-3] == "operator" {
		msg.Operator = parts[len(parts)-2]
		msg.Type = parts[len(parts)-1]
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of everything published so far.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Topics returns the published topics in order.
func (m *MockPublisher) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, len(m.messages))
	for i, msg := range m.messages {
		topics[i] = msg.Topic
	}
	return topics
}

// Types returns, in order, the envelope types mirrored for operator.
func (m *MockPublisher) Types(operator string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, msg := range m.messages {
		if msg.Operator == operator {
			types = append(types, msg.Type)
		}
	}
	return types
}

func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError makes every later Publish fail with err; nil clears it.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
