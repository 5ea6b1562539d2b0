package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	s := NewStore(db)
	require.NoError(t, s.Migrate())
	return s
}

func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return NewStore(gormDB), mock
}

func TestRecordAndRecent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := &CycleRun{
			RunID:      fmt.Sprintf("run-%d", i),
			Mode:       ModeWatch,
			Bucket:     "documents",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Processed:  i,
		}
		require.NoError(t, s.Record(ctx, run))
		assert.NotZero(t, run.ID)
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, 2, runs[0].Processed)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordTruncatesError(t *testing.T) {
	s := setupTestDB(t)
	run := &CycleRun{RunID: "long", Error: strings.Repeat("x", 2000), FinishedAt: time.Now()}

	require.NoError(t, s.Record(context.Background(), run))
	assert.Len(t, run.Error, 1024)
}

func TestRecordFailure(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `cycle_runs`").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Record(context.Background(), &CycleRun{RunID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record cycle r1")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentFailure(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `cycle_runs`").WillReturnError(errors.New("connection reset"))

	runs, err := s.Recent(context.Background(), 5)
	assert.Nil(t, runs)
	assert.ErrorContains(t, err, "failed to list cycle history")
	assert.NoError(t, mock.ExpectationsWereMet())
}
