// Package events publishes search activity to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
)

type SearchEvent struct {
	BBox     string    `json:"bbox"`
	Platform string    `json:"platform,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Granules int       `json:"granules"`
	Cache    string    `json:"cache"`
	Region   string    `json:"region,omitempty"`
	TS       time.Time `json:"ts"`
}

// Publisher sends events from a bounded queue. A nil *Publisher discards
// everything.
type Publisher struct {
	topic   string
	events  chan SearchEvent
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	dropped atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: no brokers configured")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	p := newPublisher(prod, topic, queueSize, logger)
	p.start()
	return p, nil
}

// NewWithProducer wraps an existing producer; it must report errors.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	p := newPublisher(prod, topic, queueSize, logger)
	p.start()
	return p
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		topic:   topic,
		events:  make(chan SearchEvent, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}
}

func (p *Publisher) start() {
	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("events: marshal", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			if ev.Region != "" {
				msg.Key = sarama.StringEncoder(ev.Region)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("events: producer error", "topic", p.topic, "err", err.Err)
			}
		}
	}()
}

// Publish never blocks; when the queue is full the event is dropped.
func (p *Publisher) Publish(ev SearchEvent) {
	if p == nil {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		observability.IncEventsDropped()
	}
}

func (p *Publisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
