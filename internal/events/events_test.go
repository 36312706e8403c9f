package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func mockConfig() *sarama.Config {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	return cfg
}

func TestPublish_SendsJSONToTopic(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, mockConfig())
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "granule-searches" {
			return fmt.Errorf("topic %q", m.Topic)
		}
		k, err := m.Key.Encode()
		if err != nil || string(k) != "851f1d4bfffffff" {
			return fmt.Errorf("key %q err=%v", k, err)
		}
		b, err := m.Value.Encode()
		if err != nil {
			return err
		}
		var ev SearchEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.BBox != "10,50,12,51" || ev.Granules != 7 || ev.Cache != "miss" || ev.TS.IsZero() {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})

	p := NewWithProducer(mp, "granule-searches", 8, discard())
	p.Publish(SearchEvent{
		BBox:     "10,50,12,51",
		Platform: "SENTINEL-1",
		Start:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC),
		Granules: 7,
		Cache:    "miss",
		Region:   "851f1d4bfffffff",
	})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_ProducerErrorIsNotFatal(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, mockConfig())
	mp.ExpectInputAndFail(errors.New("leader not available"))
	mp.ExpectInputAndSucceed()

	p := NewWithProducer(mp, "t", 8, discard())
	p.Publish(SearchEvent{BBox: "a"})
	p.Publish(SearchEvent{BBox: "b"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_DropsWhenQueueFull(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, mockConfig())
	// not started: nothing drains the queue
	p := newPublisher(mp, "t", 2, discard())
	for range 5 {
		p.Publish(SearchEvent{BBox: "x"})
	}
	if got := p.Dropped(); got != 3 {
		t.Fatalf("dropped=%d want 3", got)
	}
	_ = mp.Close()
}

func TestPublish_AfterCloseIsNoop(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, mockConfig())
	p := NewWithProducer(mp, "t", 2, discard())
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Publish(SearchEvent{BBox: "late"})
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	p.Publish(SearchEvent{})
	if p.Dropped() != 0 || p.Close() != nil {
		t.Fatal("nil publisher must be a no-op")
	}
}
