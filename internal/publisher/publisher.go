// Package publisher mirrors operator messages onto an MQTT broker so
// other systems can follow call activity per operator.
package publisher

import (
	"context"
	"fmt"
	"strings"
)

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Mirror republishes operator envelopes under
// <prefix>/operator/<extension>/<type>.
type Mirror struct {
	pub    Publisher
	prefix string
}

// NewMirror creates a Mirror over pub.
func NewMirror(pub Publisher, prefix string) *Mirror {
	return &Mirror{pub: pub, prefix: strings.TrimRight(prefix, "/")}
}

// Topic returns the topic an envelope of msgType for operator is
// published on.
func (m *Mirror) Topic(operator, msgType string) string {
	return fmt.Sprintf("%s/operator/%s/%s", m.prefix, operator, msgType)
}

// Operator publishes one encoded envelope for operator.
func (m *Mirror) Operator(ctx context.Context, operator, msgType string, payload []byte) error {
	if operator == "" || msgType == "" {
		return fmt.Errorf("mirror: operator and type are required")
	}
	if err := m.pub.Publish(ctx, m.Topic(operator, msgType), payload); err != nil {
		return fmt.Errorf("publishing %s for %s: %w", msgType, operator, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (m *Mirror) Close() error {
	return m.pub.Close()
}
