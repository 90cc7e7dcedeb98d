package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

const insertMessageQuery = `
	INSERT INTO raw.telegram_messages (
		message_id, channel_name, message_date, message_text,
		views, forwards, has_media, image_path
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (channel_name, message_id) DO NOTHING`

// LoadMessages bulk-inserts the given messages into raw.telegram_messages,
// silently skipping rows whose (channel_name, message_id) key already
// exists. Existing rows are never updated, so counter edits merged into the
// store after the first load do not reach the warehouse. Returns the number
// of newly inserted rows.
func (db *DB) LoadMessages(ctx context.Context, msgs []domain.Message) (int64, error) {
	if len(msgs) == 0 {
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
	for _, msg := range msgs {
		batch.Queue(insertMessageQuery,
			msg.MessageID,
			msg.ChannelName,
			toTimestamp(msg.Date),
			toText(msg.Text),
			msg.Views,
			msg.Forwards,
			msg.HasMedia,
			toText(msg.ImagePath),
		)
	}

	inserted, err := execBatch(ctx, tx, batch)
	if err != nil {
		return 0, fmt.Errorf("insert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	db.Logger.Info().Int("total", len(msgs)).Int64("inserted", inserted).Msg("Loaded raw messages")

	return inserted, nil
}

// execBatch sends a batch within the transaction and sums the affected row
// counts. Conflict-skipped rows report zero affected rows.
func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) (int64, error) {
	results := tx.SendBatch(ctx, batch)

	var inserted int64

	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()

			return 0, fmt.Errorf("batch statement %d: %w", i, err)
		}

		inserted += tag.RowsAffected()
	}

	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	return inserted, nil
}

func toText(s string) pgtype.Text {
	return pgtype.Text{String: sanitizeUTF8(s), Valid: s != ""}
}

func toTimestamp(t time.Time) pgtype.Timestamp {
	return pgtype.Timestamp{Time: t, Valid: !t.IsZero()}
}

// sanitizeUTF8 removes invalid UTF-8 sequences from a string.
func sanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "")
}
