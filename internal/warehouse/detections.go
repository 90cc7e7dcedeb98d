package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

const insertDetectionQuery = `
	INSERT INTO raw.image_detections (message_id, detected_class, confidence_score)
	VALUES ($1, $2, $3)
	ON CONFLICT (message_id, detected_class, confidence_score) DO NOTHING`

// LoadDetections bulk-inserts flattened detection rows, keyed by the full
// (message_id, detected_class, confidence_score) triple. Repeated loads of
// the same rows are no-ops. Returns the number of newly inserted rows.
func (db *DB) LoadDetections(ctx context.Context, rows []domain.FlatDetection) (int64, error) {
	if len(rows) == 0 {
		db.Logger.Warn().Msg("No detection rows to insert")

		return 0, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertDetectionQuery, row.MessageID, row.DetectedClass, row.ConfidenceScore)
	}

	inserted, err := execBatch(ctx, tx, batch)
	if err != nil {
		return 0, fmt.Errorf("insert detections: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	db.Logger.Info().Int("total", len(rows)).Int64("inserted", inserted).Msg("Loaded image detections")

	return inserted, nil
}

// TruncateDetections empties raw.image_detections for a fresh load.
// Without it, loads are purely additive and still duplicate-safe.
func (db *DB) TruncateDetections(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, "TRUNCATE TABLE raw.image_detections"); err != nil {
		return fmt.Errorf("truncate image_detections: %w", err)
	}

	db.Logger.Info().Msg("Truncated raw.image_detections")

	return nil
}

// ClassCount is one entry of the per-class detection tally.
type ClassCount struct {
	Class string
	Count int64
}

// DetectionSummary is the post-load sanity check result.
type DetectionSummary struct {
	TotalDetections int64
	UniqueMessages  int64
	TopClasses      []ClassCount
	AvgConfidence   float64
}

// VerifyDetections reports row counts, the top detected classes, and the
// mean confidence across the detection table.
func (db *DB) VerifyDetections(ctx context.Context) (DetectionSummary, error) {
	var summary DetectionSummary

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT message_id),
		       COALESCE(AVG(confidence_score), 0)
		FROM raw.image_detections`).
		Scan(&summary.TotalDetections, &summary.UniqueMessages, &summary.AvgConfidence)
	if err != nil {
		return DetectionSummary{}, fmt.Errorf("count detections: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT detected_class, COUNT(*) AS count
		FROM raw.image_detections
		GROUP BY detected_class
		ORDER BY count DESC
		LIMIT 5`)
	if err != nil {
		return DetectionSummary{}, fmt.Errorf("top classes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cc ClassCount
		if err := rows.Scan(&cc.Class, &cc.Count); err != nil {
			return DetectionSummary{}, fmt.Errorf("scan class count: %w", err)
		}

		summary.TopClasses = append(summary.TopClasses, cc)
	}

	if err := rows.Err(); err != nil {
		return DetectionSummary{}, fmt.Errorf("iterate class counts: %w", err)
	}

	db.Logger.Info().
		Int64("total_detections", summary.TotalDetections).
		Int64("unique_messages", summary.UniqueMessages).
		Float64("avg_confidence", summary.AvgConfidence).
		Msg("Detection load verified")

	for _, cc := range summary.TopClasses {
		db.Logger.Info().Str("class", cc.Class).Int64("count", cc.Count).Msg("Top detected class")
	}

	return summary, nil
}
