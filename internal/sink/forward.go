package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

// Publisher is the outbound transport half of the message queue. The
// key keeps records for one device on one partition.
type Publisher interface {
	Publish(ctx context.Context, key, data []byte) error
}

// ForwardSink publishes each surviving detection to the collector-bound
// topic using the fixed attribute schema. Delivery retry is the
// transport's concern; a publish failure surfaces as an error for the
// pipeline to log and nothing more.
type ForwardSink struct {
	queue Publisher
}

func NewForwardSink(queue Publisher) *ForwardSink {
	return &ForwardSink{queue: queue}
}

func (s *ForwardSink) Record(ctx context.Context, record domain.MetricRecord) error {
	data, err := json.Marshal(record.Attributes())
	if err != nil {
		return fmt.Errorf("failed to serialize metric record: %w", err)
	}
	if err := s.queue.Publish(ctx, []byte(record.DeviceID), data); err != nil {
		return fmt.Errorf("failed to forward metric record: %w", err)
	}
	return nil
}

// MultiSink fans one record out to several sinks. Every sink sees the
// record even when an earlier one fails; the first failure is returned
// after the fan-out completes.
type MultiSink struct {
	sinks []domain.MetricSink
}

func NewMultiSink(sinks ...domain.MetricSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Record(ctx context.Context, record domain.MetricRecord) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, record); err != nil {
			if first == nil {
				first = err
			} else {
				log.Printf("Sink error: %v", err)
			}
		}
	}
	return first
}
