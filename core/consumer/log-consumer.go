package consumer

import (
	"log"
	"time"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

// LogConsumer prints every emission batch, giving the raw event-log
// variant a local mirror of what was forwarded to the collector.
type LogConsumer struct {
	name string
}

func NewLogConsumer(name string) *LogConsumer {
	return &LogConsumer{name: name}
}

func (c *LogConsumer) Process(records []domain.MetricRecord) error {
	log.Printf("[%s] Processing batch of %d emissions", c.name, len(records))
	for _, r := range records {
		log.Printf("[%s] Device: %s, Class: %s, Score: %s, Session: %s, Time: %s",
			c.name, r.DeviceID, r.ClassName, r.FormattedScore(), r.SessionID,
			r.Timestamp.Format(time.RFC3339))
	}
	return nil
}
