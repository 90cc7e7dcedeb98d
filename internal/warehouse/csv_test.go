package warehouse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image_detections.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestReadDetectionsCSV(t *testing.T) {
	path := writeCSV(t, "message_id,detected_class,confidence_score\n"+
		"101,syringe,0.903\n"+
		"101,bottle,0.7\n"+
		"202,pill,0.25\n")

	rows, err := ReadDetectionsCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "101", rows[0].MessageID)
	assert.Equal(t, "syringe", rows[0].DetectedClass)
	assert.InDelta(t, 0.903, rows[0].ConfidenceScore, 1e-9)
	assert.Equal(t, "202", rows[2].MessageID)
}

func TestReadDetectionsCSVRejectsWrongHeader(t *testing.T) {
	path := writeCSV(t, "id,class,score\n1,syringe,0.9\n")

	_, err := ReadDetectionsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
}

func TestReadDetectionsCSVRejectsBadConfidence(t *testing.T) {
	path := writeCSV(t, "message_id,detected_class,confidence_score\n1,syringe,high\n")

	_, err := ReadDetectionsCSV(path)
	require.Error(t, err)
}

func TestReadDetectionsCSVMissingFile(t *testing.T) {
	_, err := ReadDetectionsCSV(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}
