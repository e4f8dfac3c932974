package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/config"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

type captureSink struct {
	records []domain.MetricRecord
	err     error
}

func (s *captureSink) Record(_ context.Context, record domain.MetricRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func newTestPipeline(settings config.Settings, sink domain.MetricSink, at time.Time) *Pipeline {
	p := New(settings.Normalize(), NewCooldownState(), sink)
	p.now = func() time.Time { return at }
	return p
}

func envelope(deviceID, sessionID string, detections ...domain.Detection) domain.EventEnvelope {
	return domain.EventEnvelope{
		Device:  domain.DeviceInfo{ID: deviceID, Name: "Front Door", Type: "Camera"},
		Payload: domain.DetectionSession{SessionID: sessionID, Detections: detections},
	}
}

func TestFrameNoiseDropped(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(config.DefaultSettings(), sink, time.Now())

	// No session id means per-frame noise, dropped before anything else.
	emitted := p.Process(context.Background(), envelope("d1", "",
		domain.Detection{ClassName: "person", Score: 0.99},
	))

	if len(emitted) != 0 || len(sink.records) != 0 {
		t.Fatalf("expected no emissions for frame noise, got %d", len(sink.records))
	}

	// The drop must leave cooldown state untouched: a retained session
	// right after still passes the gate.
	emitted = p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.99},
	))
	if len(emitted) != 1 {
		t.Fatalf("expected retained session to emit after noise drop, got %d", len(emitted))
	}
}

func TestUnresolvableDeviceDropped(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(config.DefaultSettings(), sink, time.Now())

	emitted := p.Process(context.Background(), envelope("", "s1",
		domain.Detection{ClassName: "person", Score: 0.5},
	))
	if len(emitted) != 0 || len(sink.records) != 0 {
		t.Fatalf("expected session without device to be dropped, got %d emissions", len(emitted))
	}
}

func TestDenylistFiltering(t *testing.T) {
	tests := []struct {
		name        string
		eventFilter string
		detections  []domain.Detection
		wantClasses []string
		wantScores  []string
	}{
		{
			name:        "single entry suppresses matching class",
			eventFilter: "motion",
			detections: []domain.Detection{
				{ClassName: "person", Score: 0.92},
				{ClassName: "motion", Score: 1.0},
			},
			wantClasses: []string{"person"},
			wantScores:  []string{"0.92"},
		},
		{
			name:        "matching is case-insensitive",
			eventFilter: "Motion",
			detections: []domain.Detection{
				{ClassName: "MOTION", Score: 1.0},
			},
			wantClasses: nil,
		},
		{
			name:        "substring containment suppresses sub-classes",
			eventFilter: "motion",
			detections: []domain.Detection{
				{ClassName: "motion_start", Score: 0.7},
				{ClassName: "pet_motion", Score: 0.8},
				{ClassName: "vehicle", Score: 0.6},
			},
			wantClasses: []string{"vehicle"},
		},
		{
			name:        "empty filter passes everything",
			eventFilter: "",
			detections: []domain.Detection{
				{ClassName: "person", Score: 0.9},
				{ClassName: "vehicle", Score: 0.8},
			},
			wantClasses: []string{"person", "vehicle"},
		},
		{
			name:        "multiple trimmed entries",
			eventFilter: " motion , debug ",
			detections: []domain.Detection{
				{ClassName: "motion", Score: 0.9},
				{ClassName: "debug_frame", Score: 0.9},
				{ClassName: "person", Score: 0.9},
			},
			wantClasses: []string{"person"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			settings := config.DefaultSettings()
			settings.EventFilter = test.eventFilter
			sink := &captureSink{}
			p := newTestPipeline(settings, sink, time.Now())

			p.Process(context.Background(), envelope("d1", "s1", test.detections...))

			if len(sink.records) != len(test.wantClasses) {
				t.Fatalf("got %d emissions, want %d", len(sink.records), len(test.wantClasses))
			}
			for i, want := range test.wantClasses {
				if sink.records[i].ClassName != want {
					t.Errorf("emission %d: got class %q, want %q", i, sink.records[i].ClassName, want)
				}
			}
			for i, want := range test.wantScores {
				if got := sink.records[i].FormattedScore(); got != want {
					t.Errorf("emission %d: got score %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestPerSessionDedupFirstOccurrenceWins(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(config.DefaultSettings(), sink, time.Now())

	p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "vehicle", Score: 0.83},
		domain.Detection{ClassName: "vehicle", Score: 0.89},
		domain.Detection{ClassName: "vehicle", Score: 0.94},
	))

	if len(sink.records) != 1 {
		t.Fatalf("got %d emissions, want 1", len(sink.records))
	}
	record := sink.records[0]
	if record.ClassName != "vehicle" {
		t.Errorf("got class %q, want vehicle", record.ClassName)
	}
	if record.FormattedScore() != "0.83" {
		t.Errorf("got score %q, want first occurrence 0.83", record.FormattedScore())
	}
	if record.SessionID != "s2" {
		t.Errorf("got session %q, want s2", record.SessionID)
	}
}

func TestDedupResetsBetweenSessions(t *testing.T) {
	settings := config.DefaultSettings()
	settings.CooldownSeconds = 1
	sink := &captureSink{}
	at := time.Now()
	p := newTestPipeline(settings, sink, at)

	p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	p.now = func() time.Time { return at.Add(2 * time.Second) }
	p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.8},
	))

	if len(sink.records) != 2 {
		t.Fatalf("dedup set must reset per session: got %d emissions, want 2", len(sink.records))
	}
}

func TestCooldownSuppression(t *testing.T) {
	settings := config.DefaultSettings() // 10s cooldown
	sink := &captureSink{}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(settings, sink, t0)

	first := p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(first) != 1 {
		t.Fatalf("first session: got %d emissions, want 1", len(first))
	}

	// 7s later: still inside the 10s window.
	p.now = func() time.Time { return t0.Add(7 * time.Second) }
	second := p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(second) != 0 {
		t.Fatalf("session inside cooldown window emitted %d records", len(second))
	}

	// The suppressed session must not have refreshed the window: at
	// t0+10s the original window has elapsed and the gate opens.
	p.now = func() time.Time { return t0.Add(10 * time.Second) }
	third := p.Process(context.Background(), envelope("d1", "s3",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(third) != 1 {
		t.Fatalf("session after window expiry: got %d emissions, want 1", len(third))
	}
}

func TestCooldownIsPerDevice(t *testing.T) {
	sink := &captureSink{}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(config.DefaultSettings(), sink, t0)

	p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	emitted := p.Process(context.Background(), envelope("d2", "s2",
		domain.Detection{ClassName: "person", Score: 0.9},
	))

	if len(emitted) != 1 {
		t.Fatalf("cooldown on d1 must not gate d2: got %d emissions", len(emitted))
	}
}

func TestAllFilteredSessionKeepsGateOpen(t *testing.T) {
	settings := config.DefaultSettings()
	settings.EventFilter = "motion"
	sink := &captureSink{}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(settings, sink, t0)

	// Every detection denylisted: passes the gate but emits nothing,
	// so the cooldown token must not be consumed.
	emitted := p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "motion", Score: 1.0},
		domain.Detection{ClassName: "motion_start", Score: 0.9},
	))
	if len(emitted) != 0 {
		t.Fatalf("all-filtered session emitted %d records", len(emitted))
	}

	// A legitimate session moments later still passes.
	p.now = func() time.Time { return t0.Add(1 * time.Second) }
	emitted = p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.95},
	))
	if len(emitted) != 1 {
		t.Fatalf("legitimate session after all-noise session: got %d emissions, want 1", len(emitted))
	}
}

func TestEmptySessionDoesNotConsumeCooldown(t *testing.T) {
	sink := &captureSink{}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(config.DefaultSettings(), sink, t0)

	emitted := p.Process(context.Background(), envelope("d1", "s1"))
	if len(emitted) != 0 {
		t.Fatalf("empty session emitted %d records", len(emitted))
	}

	p.now = func() time.Time { return t0.Add(1 * time.Second) }
	emitted = p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(emitted) != 1 {
		t.Fatalf("session after empty session: got %d emissions, want 1", len(emitted))
	}
}

func TestMissingFieldsDegradeToDefaults(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(config.DefaultSettings(), sink, time.Now())

	p.Process(context.Background(), envelope("d1", "s1", domain.Detection{}))

	if len(sink.records) != 1 {
		t.Fatalf("got %d emissions, want 1", len(sink.records))
	}
	record := sink.records[0]
	if record.ClassName != domain.DefaultClassName {
		t.Errorf("got class %q, want %q", record.ClassName, domain.DefaultClassName)
	}
	if record.FormattedScore() != "0.00" {
		t.Errorf("got score %q, want 0.00", record.FormattedScore())
	}
}

func TestSinkFailureStillCountsAsEmitted(t *testing.T) {
	sink := &captureSink{err: errors.New("collector unreachable")}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(config.DefaultSettings(), sink, t0)

	emitted := p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(emitted) != 1 {
		t.Fatalf("failed emission must still be returned: got %d", len(emitted))
	}

	// The attempt consumed the cooldown token.
	p.now = func() time.Time { return t0.Add(1 * time.Second) }
	emitted = p.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(emitted) != 0 {
		t.Fatalf("device must be in cooldown after attempted emission, got %d emissions", len(emitted))
	}
}

func TestPipelineReplacementResetsCooldown(t *testing.T) {
	settings := config.DefaultSettings()
	sink := &captureSink{}
	t0 := time.Unix(1700000000, 0)
	p := newTestPipeline(settings, sink, t0)

	p.Process(context.Background(), envelope("d1", "s1",
		domain.Detection{ClassName: "person", Score: 0.9},
	))

	// Settings change: the whole pipeline, cooldown state included, is
	// replaced. The device passes the gate immediately.
	replacement := newTestPipeline(settings, sink, t0.Add(1*time.Second))
	emitted := replacement.Process(context.Background(), envelope("d1", "s2",
		domain.Detection{ClassName: "person", Score: 0.9},
	))
	if len(emitted) != 1 {
		t.Fatalf("fresh pipeline must not inherit cooldown state, got %d emissions", len(emitted))
	}
}

func TestCooldownRemainingSeconds(t *testing.T) {
	state := NewCooldownState()
	t0 := time.Unix(1700000000, 0)
	state.MarkEmitted("d1", t0)

	remaining := state.Remaining("d1", t0.Add(7*time.Second), 10*time.Second)
	if got := int(math.Ceil(remaining.Seconds())); got != 3 {
		t.Errorf("at t=7s of a 10s window: got %ds remaining, want 3", got)
	}

	if remaining := state.Remaining("d1", t0.Add(10*time.Second), 10*time.Second); remaining != 0 {
		t.Errorf("at window expiry: got %v remaining, want 0", remaining)
	}
	if remaining := state.Remaining("d2", t0, 10*time.Second); remaining != 0 {
		t.Errorf("unknown device: got %v remaining, want 0", remaining)
	}
}

func TestTimestampCarriedFromSession(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(config.DefaultSettings(), sink, time.Unix(1700000100, 0))

	captureTime := int64(1700000000123)
	p.Process(context.Background(), domain.EventEnvelope{
		Device: domain.DeviceInfo{ID: "d1"},
		Payload: domain.DetectionSession{
			SessionID: "s1",
			Timestamp: captureTime,
			Detections: []domain.Detection{
				{ClassName: "person", Score: 0.9},
			},
		},
	})

	if len(sink.records) != 1 {
		t.Fatalf("got %d emissions, want 1", len(sink.records))
	}
	if got := sink.records[0].Timestamp; !got.Equal(time.UnixMilli(captureTime)) {
		t.Errorf("got timestamp %v, want capture time %v", got, time.UnixMilli(captureTime))
	}
}
