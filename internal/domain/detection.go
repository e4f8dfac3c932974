package domain

import (
	"strconv"
	"time"
)

// DefaultClassName is used when the detector reports an object with no label.
const DefaultClassName = "unknown"

type DeviceInfo struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
	Type string `json:"type,omitempty" bson:"type,omitempty"`
}

// Detection is one detected object within a session.
type Detection struct {
	ClassName string  `json:"className,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

// Class returns the detection's class name, falling back to the
// "unknown" sentinel when the detector omitted it.
func (d Detection) Class() string {
	if d.ClassName == "" {
		return DefaultClassName
	}
	return d.ClassName
}

// DetectionSession is one inbound event carrying a batch of detections
// for a single device at a single moment. SessionID being non-empty is
// the detector's own retention signal; without it the event is per-frame
// noise and never processed.
type DetectionSession struct {
	SessionID  string      `json:"detectionId,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
}

// EventEnvelope is what the host adapter delivers per device event:
// the originating device identity, event metadata, and the raw payload
// shaped as a DetectionSession.
type EventEnvelope struct {
	Device    DeviceInfo       `json:"device"`
	EventID   string           `json:"eventId,omitempty"`
	EventTime int64            `json:"eventTime,omitempty"`
	Payload   DetectionSession `json:"payload"`
}

// MetricRecord is one surviving detection, ready for the sink.
type MetricRecord struct {
	DeviceID   string    `json:"device_id" bson:"device_id"`
	DeviceName string    `json:"device_name" bson:"device_name"`
	DeviceType string    `json:"device_type" bson:"device_type"`
	ClassName  string    `json:"class_name" bson:"class_name"`
	Score      float64   `json:"score" bson:"score"`
	SessionID  string    `json:"session_id" bson:"session_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// Attribute keys of the exported counter, fixed schema.
const (
	AttrDeviceID       = "scrypted.device.id"
	AttrDeviceName     = "scrypted.device.name"
	AttrDeviceType     = "scrypted.device.type"
	AttrDetectionClass = "scrypted.detection.class"
	AttrDetectionScore = "scrypted.detection.score"
	AttrDetectionID    = "scrypted.detection.id"
)

// FormattedScore renders the confidence the way the collector expects
// it: a string with exactly two decimal places.
func (r MetricRecord) FormattedScore() string {
	return strconv.FormatFloat(r.Score, 'f', 2, 64)
}

// Attributes returns the full attribute set attached to the counter
// increment for this record.
func (r MetricRecord) Attributes() map[string]string {
	return map[string]string{
		AttrDeviceID:       r.DeviceID,
		AttrDeviceName:     r.DeviceName,
		AttrDeviceType:     r.DeviceType,
		AttrDetectionClass: r.ClassName,
		AttrDetectionScore: r.FormattedScore(),
		AttrDetectionID:    r.SessionID,
	}
}
