// Package memory records published events in process for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every published payload and optionally logs it.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	retain   bool
	messages []PublishedMessage
	logger   *zap.Logger
}

// New returns a memory Publisher that keeps every message.
func New() *Publisher {
	return &Publisher{retain: true, logger: zap.NewNop()}
}

// NewLogging returns a Publisher that only logs each event at info level, for
// long-running processes without a broker.
func NewLogging(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("events")}
}

// Publish records the message and returns a sequential pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	if p.retain {
		p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	}
	p.mu.Unlock()

	p.logger.Info("event published", zap.String("topic", topic), zap.String("message_id", id), zap.Any("payload", payload))
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// ByTopic returns the recorded publishes for one topic.
func (p *Publisher) ByTopic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
