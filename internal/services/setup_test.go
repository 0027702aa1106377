package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"eco-referral/internal/config"
	"eco-referral/internal/database"
	"eco-referral/internal/notify"
)

var (
	t0         = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	decimalOne = decimal.NewFromInt(1)
)

// setupTestDB opens a fresh file-backed SQLite database. A single connection
// makes concurrent callers queue at the store the way conflicting writers do
// in PostgreSQL.
func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "referral.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func staticCode(code string) CodeGenerator {
	return func() (string, error) { return code, nil }
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

func (n *recordingNotifier) Count(eventType notify.EventType) int {
	count := 0
	for _, event := range n.Events() {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

// engine wires all five components over one database
type engine struct {
	db           *gorm.DB
	codes        *ReferralCodeService
	attributions *AttributionService
	issuer       *RewardIssuer
	ledger       *RedemptionLedger
	notifier     *recordingNotifier
}

func newEngine(t testing.TB, clock time.Time) *engine {
	t.Helper()

	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	opts := []Option{WithClock(fixedClock(clock)), WithNotifier(notifier)}

	codes := NewReferralCodeService(db, AnyOwner, nil, opts...)
	return &engine{
		db:           db,
		codes:        codes,
		attributions: NewAttributionService(db, codes, opts...),
		issuer:       NewRewardIssuer(db, NewActionQualifier(config.DefaultPolicy()), opts...),
		ledger:       NewRedemptionLedger(db, opts...),
		notifier:     notifier,
	}
}

// seedCode inserts an active code directly
func seedCode(t testing.TB, db *gorm.DB, code, ownerID string) {
	t.Helper()
	codes := NewReferralCodeService(db, AnyOwner, staticCode(code))
	issued, err := codes.IssueCode(context.Background(), ownerID)
	require.NoError(t, err)
	require.Equal(t, code, issued.Code)
}
