package services

import (
	"context"
	"testing"
	"time"

	"github.com/tradeyard/otc_api/model"
	"github.com/tradeyard/otc_api/shared"
)

const (
	testContact = "a@example.com"
	testPurpose = "login"
)

func TestOtpRateLimitServiceId(t *testing.T) {
	svc := &OtpRateLimitService{}
	if svc.Id() != OTP_RATE_LIMIT_SVC {
		t.Fatalf("unexpected service id %q", svc.Id())
	}
}

func TestCheckAllowsUnknownKey(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)

	result, err := svc.Check(context.Background(), testContact, shared.ContactTypeEmail, testPurpose, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected first check to be allowed")
	}
	if result.RequestCount != 0 {
		t.Fatalf("expected count 0, got %d", result.RequestCount)
	}
	if result.MaxRequests != shared.DefaultOtpMaxRequests || result.WindowMinutes != shared.DefaultOtpWindowMinutes {
		t.Fatalf("expected defaults 5/5, got %d/%d", result.MaxRequests, result.WindowMinutes)
	}
}

func TestCheckIsReadOnly(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Check(context.Background(), testContact, shared.ContactTypeEmail, testPurpose, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rl, err := store.GetOtpRateLimit(testContact, shared.ContactTypeEmail, testPurpose)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rl != nil {
		t.Fatalf("Check must not create ledger rows, found count=%d", rl.RequestCount)
	}
}

func TestLimitExhaustion(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)
	ctx := context.Background()

	for i := 0; i < shared.DefaultOtpMaxRequests; i++ {
		result, err := svc.Check(ctx, testContact, shared.ContactTypeEmail, testPurpose, "")
		if err != nil {
			t.Fatalf("unexpected error on attempt %d: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if err := svc.Record(ctx, testContact, shared.ContactTypeEmail, testPurpose, "1.2.3.4", "test-agent"); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	result, err := svc.Check(ctx, testContact, shared.ContactTypeEmail, testPurpose, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("6th request within window should be denied")
	}
	if result.RequestCount != shared.DefaultOtpMaxRequests {
		t.Fatalf("expected count %d, got %d", shared.DefaultOtpMaxRequests, result.RequestCount)
	}
	if result.TimeUntilReset <= 0 {
		t.Fatalf("expected positive time until reset, got %v", result.TimeUntilReset)
	}
	if result.BlockedUntil != nil {
		t.Fatalf("window exhaustion is not a penalty block")
	}
}

func TestWindowResetMaterializesOnRecord(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)
	ctx := context.Background()

	blocked := time.Now().Add(-time.Minute)
	old := &model.OtpRateLimit{
		Contact:       testContact,
		ContactType:   shared.ContactTypeEmail,
		Purpose:       testPurpose,
		RequestCount:  5,
		WindowStart:   time.Now().Add(-time.Hour),
		LastRequestAt: time.Now().Add(-time.Minute),
		BlockedUntil:  &blocked,
	}
	if err := store.SaveOtpRateLimit(old); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	result, err := svc.Check(ctx, testContact, shared.ContactTypeEmail, testPurpose, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.RequestCount != 0 {
		t.Fatalf("stale window should read as fresh, got allowed=%v count=%d", result.Allowed, result.RequestCount)
	}

	// The reset only persists once Record runs.
	rl, _ := store.GetOtpRateLimit(testContact, shared.ContactTypeEmail, testPurpose)
	if rl.RequestCount != 5 {
		t.Fatalf("Check must not persist the reset, got count=%d", rl.RequestCount)
	}

	if err := svc.Record(ctx, testContact, shared.ContactTypeEmail, testPurpose, "", ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	rl, _ = store.GetOtpRateLimit(testContact, shared.ContactTypeEmail, testPurpose)
	if rl.RequestCount != 1 {
		t.Fatalf("expected count 1 after window rollover, got %d", rl.RequestCount)
	}
	if rl.BlockedUntil != nil {
		t.Fatalf("window rollover should clear the expired block")
	}
}

func TestBlockAndReset(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)
	ctx := context.Background()

	if err := svc.Block(ctx, testContact, shared.ContactTypePhone, testPurpose, 30); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	rl, _ := store.GetOtpRateLimit(testContact, shared.ContactTypePhone, testPurpose)
	if rl == nil {
		t.Fatalf("block should create the row")
	}
	if rl.RequestCount != blockedSentinelCount {
		t.Fatalf("expected sentinel count %d, got %d", blockedSentinelCount, rl.RequestCount)
	}

	result, err := svc.Check(ctx, testContact, shared.ContactTypePhone, testPurpose, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("blocked key must be denied")
	}
	if result.BlockedUntil == nil {
		t.Fatalf("expected blocked_until to be set")
	}
	if mins := result.RetryAfterMinutes(); mins < 29 || mins > 31 {
		t.Fatalf("expected ~30 minute retry estimate, got %d", mins)
	}

	if err := svc.Reset(ctx, testContact, shared.ContactTypePhone, testPurpose); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	result, err = svc.Check(ctx, testContact, shared.ContactTypePhone, testPurpose, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.RequestCount != 0 {
		t.Fatalf("reset should clear the penalty, got allowed=%v count=%d", result.Allowed, result.RequestCount)
	}
}

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, nil)

	sqlDB, err := store.db.DB()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	result, err := svc.Check(context.Background(), testContact, shared.ContactTypeEmail, testPurpose, "")
	if err == nil {
		t.Fatalf("expected error from unreachable store")
	}
	if result.Allowed {
		t.Fatalf("store failure must deny, never allow")
	}
	appErr, ok := shared.GetAppError(err)
	if !ok || appErr.Status != shared.StatusStoreUnavailable {
		t.Fatalf("expected store_unavailable, got %v", err)
	}
}

func TestAdminTunablesOverrideDefaults(t *testing.T) {
	store := newTestStore(t)
	svc := newTestLedger(store, stubSettings{values: map[string]string{
		shared.SettingOtpMaxRequests:   "2",
		shared.SettingOtpWindowMinutes: "10",
	}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := svc.Check(ctx, testContact, shared.ContactTypeEmail, testPurpose, "")
		if err != nil || !result.Allowed {
			t.Fatalf("attempt %d should be allowed: %v", i+1, err)
		}
		if err := svc.Record(ctx, testContact, shared.ContactTypeEmail, testPurpose, "", ""); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	result, err := svc.Check(ctx, testContact, shared.ContactTypeEmail, testPurpose, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("3rd request should exceed max_requests=2")
	}
	if result.MaxRequests != 2 || result.WindowMinutes != 10 {
		t.Fatalf("expected tunables 2/10, got %d/%d", result.MaxRequests, result.WindowMinutes)
	}
}

func TestPenaltyBlockMinutes(t *testing.T) {
	cases := []struct {
		count    int
		expected int
	}{
		{0, 30},
		{3, 30},
		{7, 30},
		{8, 45},
		{10, 45},
		{11, 60},
		{100, 60},
	}

	for _, tc := range cases {
		if got := penaltyBlockMinutes(tc.count); got != tc.expected {
			t.Errorf("penaltyBlockMinutes(%d) = %d, expected %d", tc.count, got, tc.expected)
		}
	}
}
