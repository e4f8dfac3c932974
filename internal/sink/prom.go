package sink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

// Prometheus label names cannot contain dots, so the scrypted.* attribute
// keys are mapped to underscore form here. The dotted schema is preserved
// on the forwarded records; this sink is the pull-side export surface.
var counterLabels = []string{
	"device_id",
	"device_name",
	"device_type",
	"detection_class",
	"detection_score",
	"detection_id",
}

// PromSink exposes every surviving detection as an increment of a
// counter vector, scraped through the /metrics endpoint.
type PromSink struct {
	detections *prometheus.CounterVec
}

func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	detections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrypted_detections_total",
		Help: "Deduplicated object detections emitted per device, class and session.",
	}, counterLabels)

	if err := reg.Register(detections); err != nil {
		return nil, err
	}
	return &PromSink{detections: detections}, nil
}

func (s *PromSink) Record(_ context.Context, record domain.MetricRecord) error {
	s.detections.WithLabelValues(
		record.DeviceID,
		record.DeviceName,
		record.DeviceType,
		record.ClassName,
		record.FormattedScore(),
		record.SessionID,
	).Inc()
	return nil
}
