package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/storage"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessages(t *testing.T) {
	w := &captureWriter{}
	p := newKafkaPublisher(w, "rates", zerolog.Nop())

	change := decimal.RequireFromString("0.25")
	records := []storage.RateRecord{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Rate: decimal.RequireFromString("5")},
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Rate: decimal.RequireFromString("5.25"), RateChange: &change},
	}
	evs := []RecordEvent{NewRecordEvent("run-1", records[0]), NewRecordEvent("run-1", records[1])}

	if err := p.Publish(context.Background(), evs); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(w.msgs))
	}
	if string(w.msgs[1].Key) != "2024-02-01" {
		t.Fatalf("key = %s, want 2024-02-01", w.msgs[1].Key)
	}

	var first, second map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(w.msgs[1].Value, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["rate"] != "5.00" || first["rate_change"] != nil {
		t.Fatalf("first event = %v", first)
	}
	if second["rate_change"] != "0.25" || second["run_id"] != "run-1" {
		t.Fatalf("second event = %v", second)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&captureWriter{err: boom}, "rates", zerolog.Nop())

	err := p.Publish(context.Background(), []RecordEvent{{Date: "2024-01-01", Rate: "5.00"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaOptions{Topic: "rates"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaOptions{Brokers: []string{"localhost:9092"}}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without topic")
	}
}
