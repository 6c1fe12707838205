package broker

import (
	"context"
	"sync"

	"revguard/pkg/models"
)

// PublishedMessage is one envelope captured by MemoryProducer.
type PublishedMessage struct {
	Topic    string
	Envelope models.MessageEnvelope
}

// MemoryProducer records published envelopes in process. Err, when set,
// is returned from every Publish.
type MemoryProducer struct {
	mu       sync.Mutex
	messages []PublishedMessage
	Err      error
}

func NewMemoryProducer() *MemoryProducer {
	return &MemoryProducer{}
}

func (p *MemoryProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Envelope: msg})
	return nil
}

func (p *MemoryProducer) Messages(topic string) []models.MessageEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.MessageEnvelope
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m.Envelope)
		}
	}
	return out
}

func (p *MemoryProducer) Close() error {
	return nil
}
