package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON document published per audit event. Consumers on
// the other side of the queue decode messages back through ParseEnvelope.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ParseEnvelope decodes one queued message.
func ParseEnvelope(message string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(message), &e); err != nil {
		return Envelope{}, fmt.Errorf("parse event envelope: %w", err)
	}
	return e, nil
}

// AuditPublisher forwards audit lifecycle events to a queue. Satisfies the
// audit package's EventPublisher interface.
type AuditPublisher struct {
	queueName string
	send      func(qName, message string) error
}

// NewAuditPublisher creates a publisher targeting the given queue.
func NewAuditPublisher(queueName string) *AuditPublisher {
	return &AuditPublisher{queueName: queueName, send: Send}
}

// Publish serializes and sends one event.
func (p *AuditPublisher) Publish(eventType string, payload map[string]any) error {
	data, err := json.Marshal(Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.send(p.queueName, string(data))
}
