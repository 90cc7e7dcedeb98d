// Package store maintains the durable per-(channel, day) message record
// sets produced by the scraper and consumed by the raw loader.
//
// Each partition is a single JSON file holding the merged array for that
// channel and calendar day. Every save fully replaces the partition; the
// store is not an append log.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

const dayFormat = "2006-01-02"

// Merge overlays incoming messages onto the existing record set, keyed by
// message ID. The newest observation of an identity wins, including edits
// to view and forward counters. Merging the same incoming sequence twice
// yields the same result as once.
func Merge(existing, incoming []domain.Message) []domain.Message {
	byID := make(map[int64]domain.Message, len(existing)+len(incoming))

	for _, msg := range existing {
		byID[msg.MessageID] = msg
	}

	for _, msg := range incoming {
		byID[msg.MessageID] = msg
	}

	merged := make([]domain.Message, 0, len(byID))
	for _, msg := range byID {
		merged = append(merged, msg)
	}

	// Newest first, matching fetch order, and stable across runs.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].MessageID > merged[j].MessageID
	})

	return merged
}

// Store reads and writes message partitions under a root directory laid out
// as <root>/<YYYY-MM-DD>/<channel>.json.
type Store struct {
	root   string
	logger *zerolog.Logger
}

func New(root string, logger *zerolog.Logger) *Store {
	return &Store{root: root, logger: logger}
}

func (s *Store) partitionPath(channel string, day time.Time) string {
	return filepath.Join(s.root, day.Format(dayFormat), channel+".json")
}

// LoadDay reads the persisted record set for one partition. A missing file
// yields an empty set; a malformed file is treated the same way so the next
// save can repair it, with a warning logged.
func (s *Store) LoadDay(channel string, day time.Time) ([]domain.Message, error) {
	data, err := os.ReadFile(s.partitionPath(channel, day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn().Str("channel", channel).Str("day", day.Format(dayFormat)).Err(err).
			Msg("could not decode existing partition, overwriting")

		return nil, nil
	}

	return msgs, nil
}

// SaveDay replaces the partition with the given record set. The write goes
// through a temp file and rename so readers never see a torn file.
func (s *Store) SaveDay(channel string, day time.Time, msgs []domain.Message) error {
	path := s.partitionPath(channel, day)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode partition: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write partition: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace partition: %w", err)
	}

	return nil
}

// MergeDay merges incoming messages into the partition for the given day
// and persists the result. Returns the merged record set.
func (s *Store) MergeDay(channel string, day time.Time, incoming []domain.Message) ([]domain.Message, error) {
	existing, err := s.LoadDay(channel, day)
	if err != nil {
		return nil, err
	}

	merged := Merge(existing, incoming)

	if err := s.SaveDay(channel, day, merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// ReadAll walks every partition under the root and returns all persisted
// messages. Malformed files are logged and skipped; they do not abort the
// read of other partitions.
func (s *Store) ReadAll() ([]domain.Message, error) {
	var all []domain.Message

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error().Str("path", path).Err(err).Msg("failed to read partition file")

			return nil
		}

		var msgs []domain.Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			s.logger.Error().Str("path", path).Err(err).Msg("failed to decode partition file, skipping")

			return nil
		}

		all = append(all, msgs...)

		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Str("root", s.root).Msg("messages directory does not exist")

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("walk partitions: %w", err)
	}

	return all, nil
}
