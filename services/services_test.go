package services

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func newTestStore(t *testing.T) *PostgresService {
	t.Helper()

	dsn := fmt.Sprintf("file:otc_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(migrationModels()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return &PostgresService{db: db}
}

type stubSettings struct {
	values map[string]string
}

func (s stubSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s stubSettings) GetIntSetting(_ context.Context, key string, fallback int) int {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func newTestLedger(store *PostgresService, settings settingsReader) *OtpRateLimitService {
	if settings == nil {
		settings = stubSettings{}
	}
	return &OtpRateLimitService{
		sqlSvc:      store,
		settingsSvc: settings,
	}
}

type fakeEmailSender struct {
	calls    int
	lastTo   string
	lastCode string
	err      error
}

func (f *fakeEmailSender) SendVerificationCodeEmail(_ context.Context, toAddress, code, _ string) error {
	f.calls++
	f.lastTo = toAddress
	f.lastCode = code
	return f.err
}

type fakeMessageSender struct {
	calls     int
	lastPhone string
	lastCode  string
	err       error
}

func (f *fakeMessageSender) SendCodeMessage(_ context.Context, phoneWithoutPlus, code string) error {
	f.calls++
	f.lastPhone = phoneWithoutPlus
	f.lastCode = code
	return f.err
}
