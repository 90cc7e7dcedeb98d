package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDetectionRecordDerivedStats(t *testing.T) {
	rec := NewDetectionRecord("12345", "data/raw/images/chemed/12345.jpg", []Detection{
		{Class: "syringe", Confidence: 0.9},
		{Class: "bottle", Confidence: 0.5},
		{Class: "syringe", Confidence: 0.7},
	})

	assert.Equal(t, 3, rec.ObjectCount)
	assert.InDelta(t, 0.7, rec.AvgConfidence, 1e-9)
}

func TestNewDetectionRecordNoDetections(t *testing.T) {
	rec := NewDetectionRecord("12345", "img.jpg", nil)

	assert.Equal(t, 0, rec.ObjectCount)
	assert.Zero(t, rec.AvgConfidence)
}

func TestFlattenOmitsRecordsWithoutDetections(t *testing.T) {
	records := []DetectionRecord{
		NewDetectionRecord("1", "a.jpg", []Detection{{Class: "pill", Confidence: 0.8}}),
		NewDetectionRecord("2", "b.jpg", nil),
		NewDetectionRecord("3", "c.jpg", []Detection{
			{Class: "syringe", Confidence: 0.9},
			{Class: "syringe", Confidence: 0.6},
		}),
	}

	rows := Flatten(records)

	require.Len(t, rows, 3)
	assert.Equal(t, FlatDetection{MessageID: "1", DetectedClass: "pill", ConfidenceScore: 0.8}, rows[0])
	assert.Equal(t, "3", rows[1].MessageID)
	assert.Equal(t, "3", rows[2].MessageID)
}

func TestMessageUnmarshalAcceptsFlexibleDates(t *testing.T) {
	cases := []struct {
		name string
		date string
	}{
		{"rfc3339", "2026-08-29T12:30:00Z"},
		{"iso_no_zone", "2026-08-29T12:30:00"},
		{"date_only", "2026-08-29"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(`{"message_id": 1, "channel_name": "chemed", "date": "` + tc.date + `"}`)

			var m Message
			require.NoError(t, json.Unmarshal(raw, &m))
			assert.Equal(t, 2026, m.Date.Year())
			assert.Equal(t, time.August, m.Date.Month())
		})
	}
}

func TestMessageUnmarshalRejectsGarbageDate(t *testing.T) {
	var m Message

	err := json.Unmarshal([]byte(`{"message_id": 1, "date": "not a date"}`), &m)
	require.Error(t, err)
}

func TestMessageJSONRoundTrip(t *testing.T) {
	orig := Message{
		MessageID:   42,
		ChannelName: "tikvahpharma",
		Date:        time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC),
		Text:        "new stock",
		Views:       120,
		Forwards:    3,
		HasMedia:    true,
		ImagePath:   "data/raw/images/tikvahpharma/42.jpg",
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, orig, decoded)
}
