package seeder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewrollup/internal/testsupport"
	"viewrollup/internal/views"
)

func TestSeederRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Date(2020, time.July, 10, 12, 0, 0, 0, time.UTC)

	s := NewSeeder(db, testsupport.GetLogger(), 1234, "80.62.20.6").WithSeed(42)
	s.Days = 30
	s.now = func() time.Time { return now }

	written, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1234, written)
	assert.Equal(t, int64(1234), testsupport.CountRows(t, db, views.TableName))

	var events []views.ViewEvent
	require.NoError(t, db.Find(&events).Error)

	earliest := now.Add(-30 * 24 * time.Hour).Format(views.DateLayout)
	for _, e := range events {
		require.NoError(t, views.Validate(e))
		assert.False(t, e.Classified())
		assert.GreaterOrEqual(t, e.Date(), earliest)
		assert.Less(t, e.Timestamp, testsupport.FormatTimestamp(now))
	}
}

func TestSeederCancelled(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	written, err := NewSeeder(db, testsupport.GetLogger(), 10, "").Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, written)
}
