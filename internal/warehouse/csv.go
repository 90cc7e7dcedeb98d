package warehouse

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

var detectionCSVHeader = []string{"message_id", "detected_class", "confidence_score"}

// ReadDetectionsCSV parses a flattened detections file as produced by the
// enrichment runner. The header must match exactly; a malformed row fails
// the whole file, leaving the caller to skip it.
func ReadDetectionsCSV(path string) ([]domain.FlatDetection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections csv: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(detectionCSVHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	for i, col := range detectionCSVHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected csv header %v, want %v", header, detectionCSVHeader)
		}
	}

	var rows []domain.FlatDetection

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		confidence, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse confidence %q: %w", record[2], err)
		}

		rows = append(rows, domain.FlatDetection{
			MessageID:       record[0],
			DetectedClass:   record[1],
			ConfidenceScore: confidence,
		})
	}

	return rows, nil
}
