package pipeline

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/config"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

// Pipeline turns a stream of noisy per-frame detection events into at
// most one metric per device, class and session. Per event the chain is
// strict pass/fail with no backtracking: retained-session check, device
// cooldown gate, then per detection the class denylist and the
// per-session dedup set. The cooldown timestamp is refreshed only when
// at least one record was handed to the sink.
//
// Sessions for the same device must be processed sequentially (the
// dispatcher shards by device id); sessions for different devices are
// independent and safe to run in parallel.
type Pipeline struct {
	sink      domain.MetricSink
	cooldowns *CooldownState
	denylist  []string
	window    time.Duration

	now func() time.Time
}

// New builds a pipeline around one immutable settings snapshot. On a
// settings change the caller replaces the whole pipeline, including its
// CooldownState, rather than mutating this one.
func New(settings config.Settings, cooldowns *CooldownState, sink domain.MetricSink) *Pipeline {
	return &Pipeline{
		sink:      sink,
		cooldowns: cooldowns,
		denylist:  settings.Denylist(),
		window:    settings.Cooldown(),
		now:       time.Now,
	}
}

// retained reports whether the payload carries the detector's own
// retention signal. Everything without one is frame noise and is
// dropped before any other processing.
func retained(session domain.DetectionSession) bool {
	return session.SessionID != ""
}

// skipClass applies the case-insensitive substring denylist. Substring
// containment is deliberate: one entry like "motion" suppresses every
// related sub-class.
func skipClass(className string, denylist []string) bool {
	lower := strings.ToLower(className)
	for _, entry := range denylist {
		if strings.Contains(lower, entry) {
			return true
		}
	}
	return false
}

// Process runs one raw event through the full chain and returns the
// records that were handed to the sink. It never returns an error: a
// sink failure is logged and the record still counts as emitted, since
// transport retry is the sink's concern, not the pipeline's.
func (p *Pipeline) Process(ctx context.Context, envelope domain.EventEnvelope) []domain.MetricRecord {
	session := envelope.Payload
	if !retained(session) {
		return nil
	}
	if envelope.Device.ID == "" {
		log.Printf("Dropping session %s: no resolvable device", session.SessionID)
		return nil
	}

	now := p.now()
	if remaining := p.cooldowns.Remaining(envelope.Device.ID, now, p.window); remaining > 0 {
		log.Printf("Device %s in cooldown, %ds remaining, suppressing session %s",
			envelope.Device.ID, int(math.Ceil(remaining.Seconds())), session.SessionID)
		return nil
	}

	timestamp := now
	if session.Timestamp > 0 {
		timestamp = time.UnixMilli(session.Timestamp)
	}

	// Dedup set, reset per session: first occurrence of a class wins,
	// later duplicates are discarded even when their score is higher.
	seen := make(map[string]struct{}, len(session.Detections))
	var emitted []domain.MetricRecord

	for _, detection := range session.Detections {
		className := detection.Class()
		if skipClass(className, p.denylist) {
			continue
		}
		if _, dup := seen[className]; dup {
			continue
		}
		seen[className] = struct{}{}

		record := domain.MetricRecord{
			DeviceID:   envelope.Device.ID,
			DeviceName: envelope.Device.Name,
			DeviceType: envelope.Device.Type,
			ClassName:  className,
			Score:      detection.Score,
			SessionID:  session.SessionID,
			Timestamp:  timestamp,
		}
		if err := p.sink.Record(ctx, record); err != nil {
			log.Printf("Failed to record metric for device %s class %s: %v",
				envelope.Device.ID, className, err)
		}
		emitted = append(emitted, record)
	}

	if len(emitted) > 0 {
		p.cooldowns.MarkEmitted(envelope.Device.ID, now)
	}
	return emitted
}
