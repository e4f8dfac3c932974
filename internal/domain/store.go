package domain

import (
	"context"
	"time"
)

// MetricSink receives one call per surviving detection. Implementations
// own no timing policy; export cadence belongs to the transport behind
// them. A sink error must never abort event processing upstream.
type MetricSink interface {
	Record(ctx context.Context, record MetricRecord) error
}

// RecordConsumer gets each flushed emission batch after it was stored.
type RecordConsumer interface {
	Process(records []MetricRecord) error
}

// EmissionStore persists emitted metric records for audit and querying.
type EmissionStore interface {
	InsertBatch(ctx context.Context, records []MetricRecord) error
	GetAggregates(ctx context.Context, query AggregateQuery) ([]AggregateResult, error)
	Close() error
}

type AggregateQuery struct {
	DeviceID    string    `json:"device_id,omitempty"`
	ClassName   string    `json:"class_name,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Granularity string    `json:"granularity"` // minute, hour, day
}

type AggregateResult struct {
	DeviceID   string    `json:"device_id" bson:"device_id"`
	ClassName  string    `json:"class_name" bson:"class_name"`
	TimeWindow time.Time `json:"time_window" bson:"time_window"`
	Count      int64     `json:"count" bson:"count"`
	AvgScore   float64   `json:"avg_score" bson:"avg_score"`
	MinScore   float64   `json:"min_score" bson:"min_score"`
	MaxScore   float64   `json:"max_score" bson:"max_score"`
}
