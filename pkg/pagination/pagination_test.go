package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{
		CreatedAt: time.Date(2026, 5, 4, 8, 0, 1, 500, time.FixedZone("TRT", 3*3600)),
		ID:        uuid.New(),
	}
	got, err := ParseCursor(EncodeCursor(want))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.Equal(t, want.ID, got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, value := range []string{"%%%", "bm9waXBl", "bm90LWEtdGltZXxhYmM"} {
		_, err := ParseCursor(value)
		assert.Error(t, err, value)
	}
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	key := func(i int) Cursor { return Cursor{CreatedAt: base.Add(time.Duration(i) * time.Second), ID: ids[i]} }

	rows, next := Trim([]int{0, 1, 2}, 2, key)
	assert.Equal(t, []int{0, 1}, rows)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, ids[1], cursor.ID)

	rows, next = Trim([]int{0, 1}, 2, key)
	assert.Equal(t, []int{0, 1}, rows)
	assert.Empty(t, next)
}
