// Package domain defines the record types shared by the pipeline stages:
// scraped channel messages, per-image detection records, and the flattened
// detection rows used as the warehouse insertion unit.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Message is a single scraped channel message. Identity within a channel's
// record set is (ChannelName, MessageID); later observations of the same
// identity replace earlier ones.
type Message struct {
	MessageID    int64     `json:"message_id"`
	ChannelName  string    `json:"channel_name"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	Date         time.Time `json:"date"`
	Text         string    `json:"message_text,omitempty"`
	Views        int       `json:"views"`
	Forwards     int       `json:"forwards"`
	HasMedia     bool      `json:"has_media"`
	ImagePath    string    `json:"image_path,omitempty"`
}

// UnmarshalJSON accepts the date in any parseable format. Partitions
// written by earlier scraper versions carry bare ISO strings rather than
// RFC 3339 timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message

	aux := struct {
		Date string `json:"date"`
		*alias
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Date != "" {
		t, err := dateparse.ParseAny(aux.Date)
		if err != nil {
			return fmt.Errorf("parse message date %q: %w", aux.Date, err)
		}

		m.Date = t
	}

	return nil
}

// Detection is a single detected object reported by the detection engine.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// DetectionRecord is the enrichment output for one image. Identity is
// (MessageID, ImagePath); once written, a record is never replaced by a
// later run (first-write-wins).
type DetectionRecord struct {
	MessageID     string      `json:"message_id"`
	ImagePath     string      `json:"image_path"`
	RelativePath  string      `json:"relative_path,omitempty"`
	Subdirectory  string      `json:"subdirectory,omitempty"`
	Detections    []Detection `json:"detected_objects"`
	ObjectCount   int         `json:"object_count"`
	AvgConfidence float64     `json:"avg_confidence"`
	ModelVersion  string      `json:"model_version"`
	ProcessedAt   time.Time   `json:"processed_at"`
	RunID         string      `json:"run_id,omitempty"`
}

// NewDetectionRecord builds a record with its derived statistics.
// AvgConfidence is the arithmetic mean of the detections' confidences,
// or 0 when there are none.
func NewDetectionRecord(messageID, imagePath string, detections []Detection) DetectionRecord {
	rec := DetectionRecord{
		MessageID:   messageID,
		ImagePath:   imagePath,
		Detections:  detections,
		ObjectCount: len(detections),
	}

	if len(detections) > 0 {
		var sum float64
		for _, d := range detections {
			sum += d.Confidence
		}

		rec.AvgConfidence = sum / float64(len(detections))
	}

	return rec
}

// FlatDetection is one row per detected object, keyed by the full triple.
type FlatDetection struct {
	MessageID       string
	DetectedClass   string
	ConfidenceScore float64
}

// Flatten projects detection records to their flattened rows. Records with
// zero detections are omitted: only detected objects are loaded.
func Flatten(records []DetectionRecord) []FlatDetection {
	rows := make([]FlatDetection, 0, len(records))

	for _, rec := range records {
		for _, d := range rec.Detections {
			rows = append(rows, FlatDetection{
				MessageID:       rec.MessageID,
				DetectedClass:   d.Class,
				ConfidenceScore: d.Confidence,
			})
		}
	}

	return rows
}
