package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscrape/telegram-warehouse/internal/domain"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()

	return &logger
}

func msg(id int64, text string) domain.Message {
	return domain.Message{
		MessageID:   id,
		ChannelName: "chemed",
		Date:        time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Text:        text,
	}
}

func TestMergeIntoEmptySet(t *testing.T) {
	incoming := []domain.Message{msg(1, "a"), msg(2, "b")}

	merged := Merge(nil, incoming)

	require.Len(t, merged, 2)
	assert.Equal(t, int64(2), merged[0].MessageID)
	assert.Equal(t, int64(1), merged[1].MessageID)
}

func TestMergeOverwritesExistingIdentity(t *testing.T) {
	existing := []domain.Message{msg(1, "A")}
	incoming := []domain.Message{msg(1, "B")}

	merged := Merge(existing, incoming)

	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].Text)
}

func TestMergeIsIdempotent(t *testing.T) {
	existing := []domain.Message{msg(1, "a"), msg(3, "c")}
	incoming := []domain.Message{msg(1, "a2"), msg(2, "b")}

	once := Merge(existing, incoming)
	twice := Merge(once, incoming)

	assert.Equal(t, once, twice)
}

func TestMergeNeverDuplicatesIdentities(t *testing.T) {
	existing := []domain.Message{msg(1, "a"), msg(2, "b")}
	incoming := []domain.Message{msg(2, "b2"), msg(2, "b3"), msg(3, "c")}

	merged := Merge(existing, incoming)

	seen := make(map[int64]int)
	for _, m := range merged {
		seen[m.MessageID]++
	}

	for id, count := range seen {
		assert.Equalf(t, 1, count, "message %d appears %d times", id, count)
	}

	require.Len(t, merged, 3)
	// The last observation of a repeated identity wins.
	assert.Equal(t, "b3", merged[1].Text)
}

func TestMergeDayPersistsReplacedSet(t *testing.T) {
	st := New(t.TempDir(), testLogger())
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	_, err := st.MergeDay("chemed", day, []domain.Message{msg(1, "first"), msg(2, "b")})
	require.NoError(t, err)

	merged, err := st.MergeDay("chemed", day, []domain.Message{msg(1, "edited")})
	require.NoError(t, err)
	require.Len(t, merged, 2)

	loaded, err := st.LoadDay("chemed", day)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "edited", loaded[1].Text)
}

func TestLoadDayMissingPartition(t *testing.T) {
	st := New(t.TempDir(), testLogger())

	loaded, err := st.LoadDay("chemed", time.Now())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestReadAllSkipsMalformedFiles(t *testing.T) {
	root := t.TempDir()
	st := New(root, testLogger())
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	_, err := st.MergeDay("chemed", day, []domain.Message{msg(1, "a")})
	require.NoError(t, err)

	_, err = st.MergeDay("tikvahpharma", day, []domain.Message{msg(7, "b"), msg(8, "c")})
	require.NoError(t, err)

	broken := filepath.Join(root, "2026-08-30", "lobelia4cosmetics.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))

	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadAllMissingRoot(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "nope"), testLogger())

	all, err := st.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}
