package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/stats"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	sum := stats.Summary{
		Attempted: 3,
		Succeeded: 2,
		Failed:    1,
		Errors:    map[string]uint64{"http 500": 1},
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Save(NewRecord("prod", []string{"geocode"}, sum, at.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	recs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[0], recs[2].ID)

	recs, err = s.List(2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	got, err := s.Get(ids[1])
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Stage)
	assert.Equal(t, []string{"geocode"}, got.Tests)
	assert.Equal(t, uint64(1), got.Summary.Errors["http 500"])
	assert.True(t, got.Timestamp.Equal(at.Add(time.Minute)))
}

func TestStoreGetMissing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Save(Record{Stage: "dev"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Stage)
}
