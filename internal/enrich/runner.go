// Package enrich runs object-detection inference over the scraped image
// tree and maintains the durable detection record set.
//
// The inference-merge-persist cycle is split so the merge is a pure
// function over (existing records, freshly computed records); all I/O sits
// at the boundary.
package enrich

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscrape/telegram-warehouse/internal/domain"
	"github.com/medscrape/telegram-warehouse/internal/observability"
)

// ErrNoMessageID indicates a message identity could not be derived from an
// image filename.
var ErrNoMessageID = errors.New("cannot derive message id from filename")

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {}, ".tiff": {}, ".webp": {},
}

const progressLogInterval = 10

// Runner walks the image tree, invokes the detection engine per image, and
// merges the results into the persisted detection record set.
type Runner struct {
	imagesDir  string
	outputFile string
	threshold  float64
	engine     Engine
	runID      string
	logger     *zerolog.Logger
}

func NewRunner(imagesDir, outputFile string, threshold float64, engine Engine, runID string, logger *zerolog.Logger) *Runner {
	return &Runner{
		imagesDir:  imagesDir,
		outputFile: outputFile,
		threshold:  threshold,
		engine:     engine,
		runID:      runID,
		logger:     logger,
	}
}

// Run processes every image under the tree and persists the merged record
// set plus its flattened CSV projection. Per-image failures are logged and
// counted, never fatal; repeated runs over a partially processed tree are
// additive and duplicate-free.
func (r *Runner) Run(ctx context.Context) ([]domain.DetectionRecord, error) {
	images, err := r.listImages()
	if err != nil {
		return nil, err
	}

	r.logger.Info().Int("images", len(images)).Str("dir", r.imagesDir).Msg("Starting image enrichment")

	fresh := make([]domain.DetectionRecord, 0, len(images))
	errCount := 0

	for i, path := range images {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := r.processImage(ctx, path)
		if err != nil {
			r.logger.Warn().Str("image", path).Err(err).Msg("skipping image")
			observability.ImagesProcessed.WithLabelValues("error").Inc()

			errCount++

			continue
		}

		fresh = append(fresh, rec)
		observability.ImagesProcessed.WithLabelValues("ok").Inc()

		if (i+1)%progressLogInterval == 0 {
			r.logger.Info().Int("processed", i+1).Int("total", len(images)).Msg("Enrichment progress")
		}
	}

	r.logger.Info().Int("success", len(fresh)).Int("errors", errCount).Msg("Image processing complete")

	existing := r.loadExisting()
	merged := MergeRecords(existing, fresh)

	if err := r.writeJSON(merged); err != nil {
		return nil, err
	}

	rows := domain.Flatten(merged)
	if err := r.writeCSV(rows); err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("records", len(merged)).
		Int("new", len(merged)-len(existing)).
		Int("flat_rows", len(rows)).
		Msg("Detection records persisted")

	return merged, nil
}

// CSVPath returns where the flattened projection for a given JSON artifact
// is written: next to it, always named image_detections.csv.
func CSVPath(outputFile string) string {
	return filepath.Join(filepath.Dir(outputFile), "image_detections.csv")
}

func (r *Runner) listImages() ([]string, error) {
	var images []string

	err := filepath.WalkDir(r.imagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
			images = append(images, path)
		}

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn().Str("dir", r.imagesDir).Msg("images directory does not exist")

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("walk images: %w", err)
	}

	return images, nil
}

func (r *Runner) processImage(ctx context.Context, path string) (domain.DetectionRecord, error) {
	messageID, err := ExtractMessageID(filepath.Base(path))
	if err != nil {
		return domain.DetectionRecord{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DetectionRecord{}, fmt.Errorf("read image: %w", err)
	}

	detections, err := r.engine.Detect(ctx, data, r.threshold)
	if err != nil {
		return domain.DetectionRecord{}, fmt.Errorf("inference: %w", err)
	}

	rec := domain.NewDetectionRecord(messageID, path, detections)
	rec.ModelVersion = r.engine.ModelVersion()
	rec.ProcessedAt = time.Now().UTC()
	rec.RunID = r.runID

	if rel, err := filepath.Rel(r.imagesDir, path); err == nil {
		rec.RelativePath = rel
		rec.Subdirectory = filepath.Dir(rel)
	}

	return rec, nil
}

// ExtractMessageID derives the message identity from an image filename:
// the stem up to the first underscore, or the whole stem when there is
// none. Filenames look like <message_id>.jpg or <message_id>_<index>.jpg.
func ExtractMessageID(filename string) (string, error) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if id, _, found := strings.Cut(stem, "_"); found {
		stem = id
	}

	if stem == "" {
		return "", fmt.Errorf("%w: %q", ErrNoMessageID, filename)
	}

	return stem, nil
}

// MergeRecords overlays freshly computed records onto the existing set,
// keyed by (message_id, image_path). Existing records are kept as-is;
// only records for previously unseen identities are appended. This is the
// opposite tie-break from the message merge: detections are immutable once
// written, so re-running over a partially processed tree only fills gaps.
func MergeRecords(existing, fresh []domain.DetectionRecord) []domain.DetectionRecord {
	type identity struct {
		messageID string
		imagePath string
	}

	seen := make(map[identity]struct{}, len(existing))
	for _, rec := range existing {
		seen[identity{rec.MessageID, rec.ImagePath}] = struct{}{}
	}

	merged := make([]domain.DetectionRecord, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)

	for _, rec := range fresh {
		id := identity{rec.MessageID, rec.ImagePath}
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		merged = append(merged, rec)
	}

	return merged
}

// loadExisting reads the persisted record set. A missing or malformed file
// yields an empty set; the malformed case is logged and the file is
// rewritten on save.
func (r *Runner) loadExisting() []domain.DetectionRecord {
	data, err := os.ReadFile(r.outputFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		r.logger.Warn().Str("path", r.outputFile).Err(err).Msg("could not read existing detections")

		return nil
	}

	var records []domain.DetectionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		r.logger.Warn().Str("path", r.outputFile).Err(err).Msg("could not parse existing detections, overwriting")

		return nil
	}

	r.logger.Info().Int("records", len(records)).Msg("Loaded existing detection records")

	return records
}

func (r *Runner) writeJSON(records []domain.DetectionRecord) error {
	if err := os.MkdirAll(filepath.Dir(r.outputFile), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}

	tmp := r.outputFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write detections: %w", err)
	}

	if err := os.Rename(tmp, r.outputFile); err != nil {
		return fmt.Errorf("replace detections: %w", err)
	}

	return nil
}

func (r *Runner) writeCSV(rows []domain.FlatDetection) error {
	if len(rows) == 0 {
		r.logger.Warn().Msg("No detections to write to CSV")

		return nil
	}

	f, err := os.Create(CSVPath(r.outputFile))
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"message_id", "detected_class", "confidence_score"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.MessageID,
			row.DetectedClass,
			strconv.FormatFloat(row.ConfidenceScore, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return nil
}
