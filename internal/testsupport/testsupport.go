package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"viewrollup/internal/config"
	"viewrollup/internal/database"
	"viewrollup/internal/views"
)

var dbCounter atomic.Int64

// SetupTestDB creates an in-memory database with every collection migrated.
// The pool is pinned to a single connection so concurrent writers in the
// code under test queue instead of tripping over SQLite table locks.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	sanitizedName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, dbCounter.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// TestDBManager wraps cartridge's TestDBManager for handler tests.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// TestConfig returns a configuration suitable for tests without touching the
// process-wide config singleton.
func TestConfig() *config.Config {
	return &config.Config{
		AppName:            "viewrollup",
		Environment:        config.Test,
		LogLevel:           config.LogLevelError,
		Region:             "europe-west1",
		InternalIP:         "80.62.20.6",
		ClassifierCutoff:   "2020-07-21T09:47:58.666Z",
		DeleteBatchSize:    50,
		WriteBatchSize:     100,
		WriteConcurrency:   4,
		InvalidEventPolicy: config.InvalidEventsPropagate,
		LeaseBackend:       config.LeaseBackendDatabase,
		LeaseTTLSeconds:    600,
		ClassifySchedule:   "*/5 * * * *",
		AggregateSchedule:  "15 0 * * *",
	}
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateViewEvent inserts a view event and returns it.
func CreateViewEvent(t *testing.T, db *gorm.DB, timestamp, ip, page string) views.ViewEvent {
	t.Helper()
	event := views.ViewEvent{
		ID:        uuid.NewString(),
		Timestamp: timestamp,
		IP:        ip,
		Page:      page,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

// CreateViewEventAt inserts a view event stamped with the given time.
func CreateViewEventAt(t *testing.T, db *gorm.DB, at time.Time, ip, page string) views.ViewEvent {
	t.Helper()
	return CreateViewEvent(t, db, FormatTimestamp(at), ip, page)
}

// FormatTimestamp renders t the way upstream ingestion stores timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SeedRows inserts n id-only rows into table with zero-padded ids so id order
// equals insertion order.
func SeedRows(t *testing.T, db *gorm.DB, table string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Exec(fmt.Sprintf("INSERT INTO %s (id) VALUES (?)", table), fmt.Sprintf("doc-%05d", i)).Error)
	}
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Table(table).Count(&count).Error)
	return count
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
