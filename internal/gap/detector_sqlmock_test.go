package gap_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/gap"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestDetectQueriesDistinctSlotsPerEntity(t *testing.T) {
	db, mock := newMockDB(t)
	window := testWindow(t)

	mock.ExpectQuery(`SELECT DISTINCT "slot_ts" FROM "weather_hourly"`).
		WithArgs("warsaw", window.Start, window.End).
		WillReturnRows(sqlmock.NewRows([]string{"slot_ts"}).
			AddRow(window.Start).
			AddRow(window.Start.Add(time.Hour)))

	detector := gap.NewDetector(db, testEntities[:1])
	gaps, err := detector.Detect(context.Background(), window)
	require.NoError(t, err)

	assert.Len(t, gaps["warsaw"], window.Hours()-2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectFailsWholeCallOnReadError(t *testing.T) {
	db, mock := newMockDB(t)
	window := testWindow(t)

	mock.ExpectQuery(`SELECT DISTINCT "slot_ts" FROM "weather_hourly"`).
		WillReturnError(assert.AnError)

	detector := gap.NewDetector(db, testEntities)
	_, err := detector.Detect(context.Background(), window)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warsaw")
}
