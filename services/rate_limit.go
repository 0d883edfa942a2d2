package services

import (
	"context"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/tradeyard/otc_api/dto"
	"github.com/tradeyard/otc_api/model"
	"github.com/tradeyard/otc_api/shared"
)

// settingsReader is the settings-provider boundary the ledger depends on.
type settingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	GetIntSetting(ctx context.Context, key string, fallback int) int
}

// OtpRateLimitService is the persistent per-(contact, contact_type, purpose)
// sliding-window ledger. Check never mutates state; a stale window is
// materialized on the next Record call.
type OtpRateLimitService struct {
	appContext.DefaultService

	sqlSvc      *PostgresService
	settingsSvc settingsReader

	purgeMutex sync.Mutex
	lastPurge  time.Time
}

const OTP_RATE_LIMIT_SVC = "otp_rate_limit_svc"

// Rows created by Block without prior issuance history carry a sentinel count
// so the window math never reads them as fresh.
const blockedSentinelCount = 999

const stalePurgeInterval = time.Minute

// Pointer receiver: the struct carries a mutex and must not be copied.
func (svc *OtpRateLimitService) Id() string {
	return OTP_RATE_LIMIT_SVC
}

func (svc *OtpRateLimitService) Configure(ctx *appContext.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *OtpRateLimitService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.settingsSvc = svc.Service(SETTINGS_SVC).(*SettingsService)
	return nil
}

func (svc *OtpRateLimitService) limits(ctx context.Context) (maxRequests int, window time.Duration) {
	maxRequests = svc.settingsSvc.GetIntSetting(ctx, shared.SettingOtpMaxRequests, shared.DefaultOtpMaxRequests)
	windowMinutes := svc.settingsSvc.GetIntSetting(ctx, shared.SettingOtpWindowMinutes, shared.DefaultOtpWindowMinutes)
	if maxRequests < 1 {
		maxRequests = shared.DefaultOtpMaxRequests
	}
	if windowMinutes < 1 {
		windowMinutes = shared.DefaultOtpWindowMinutes
	}
	return maxRequests, time.Duration(windowMinutes) * time.Minute
}

// Check reports whether issuance is allowed for the key. A store error fails
// closed: the result is a denial, never an allow.
func (svc *OtpRateLimitService) Check(ctx context.Context, contact, contactType, purpose, ip string) (*dto.OtpRateLimitResult, error) {
	maxRequests, window := svc.limits(ctx)
	windowMinutes := int(window / time.Minute)

	svc.maybePurgeStale()

	result := &dto.OtpRateLimitResult{
		MaxRequests:   maxRequests,
		WindowMinutes: windowMinutes,
	}

	rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"contact": contact,
			"purpose": purpose,
			"ip":      ip,
		}).Error("Rate limit check failed, denying request")

		result.Allowed = false
		return result, shared.ErrStoreUnavailable(err)
	}

	now := time.Now()

	if rl == nil {
		result.Allowed = true
		result.TimeUntilReset = window
		return result, nil
	}

	if rl.BlockedUntil != nil && now.Before(*rl.BlockedUntil) {
		result.Allowed = false
		result.RequestCount = rl.RequestCount
		result.TimeUntilReset = rl.BlockedUntil.Sub(now)
		result.BlockedUntil = rl.BlockedUntil
		return result, nil
	}

	if now.Sub(rl.WindowStart) >= window {
		// Stale window. Treated as count zero here; the reset is persisted
		// by the next Record call.
		result.Allowed = true
		result.TimeUntilReset = window
		return result, nil
	}

	result.RequestCount = rl.RequestCount
	result.TimeUntilReset = rl.WindowStart.Add(window).Sub(now)
	result.Allowed = rl.RequestCount < maxRequests
	return result, nil
}

// Record upserts the ledger row for an attempt. Callers invoke it only after
// Check allowed the request, and before the code is issued, so a crash
// between the two fails closed.
func (svc *OtpRateLimitService) Record(ctx context.Context, contact, contactType, purpose, ip, userAgent string) error {
	_, window := svc.limits(ctx)

	rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose)
	if err != nil {
		return svc.sqlSvc.HandleError(err)
	}

	now := time.Now()

	if rl == nil {
		rl = &model.OtpRateLimit{
			Contact:       contact,
			ContactType:   contactType,
			Purpose:       purpose,
			RequestCount:  1,
			WindowStart:   now,
			LastRequestAt: now,
			IPAddress:     ip,
			UserAgent:     userAgent,
		}
		return svc.sqlSvc.SaveOtpRateLimit(rl)
	}

	if now.Sub(rl.WindowStart) >= window {
		// New window: materialize the reset detected by Check.
		rl.RequestCount = 1
		rl.WindowStart = now
		rl.BlockedUntil = nil
	} else {
		rl.RequestCount++
	}

	rl.LastRequestAt = now
	if ip != "" {
		rl.IPAddress = ip
	}
	if userAgent != "" {
		rl.UserAgent = userAgent
	}

	return svc.sqlSvc.UpdateOtpRateLimit(rl)
}

// Block sets a penalty block for the key, creating the row if needed.
func (svc *OtpRateLimitService) Block(ctx context.Context, contact, contactType, purpose string, durationMinutes int) error {
	rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose)
	if err != nil {
		return svc.sqlSvc.HandleError(err)
	}

	now := time.Now()
	blockedUntil := now.Add(time.Duration(durationMinutes) * time.Minute)

	if rl == nil {
		rl = &model.OtpRateLimit{
			Contact:       contact,
			ContactType:   contactType,
			Purpose:       purpose,
			RequestCount:  blockedSentinelCount,
			WindowStart:   now,
			LastRequestAt: now,
			BlockedUntil:  &blockedUntil,
		}
		err = svc.sqlSvc.SaveOtpRateLimit(rl)
	} else {
		rl.BlockedUntil = &blockedUntil
		rl.LastRequestAt = now
		err = svc.sqlSvc.UpdateOtpRateLimit(rl)
	}

	if err != nil {
		return svc.sqlSvc.HandleError(err)
	}

	log.WithFields(log.Fields{
		"contact":       contact,
		"purpose":       purpose,
		"block_minutes": durationMinutes,
	}).Warn("OTP requests blocked")

	return nil
}

// Reset clears the penalty history for a key that has just proven legitimate
// possession of the contact.
func (svc *OtpRateLimitService) Reset(ctx context.Context, contact, contactType, purpose string) error {
	rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose)
	if err != nil {
		return svc.sqlSvc.HandleError(err)
	}
	if rl == nil {
		return nil
	}

	now := time.Now()
	rl.RequestCount = 0
	rl.WindowStart = now
	rl.LastRequestAt = now
	rl.BlockedUntil = nil

	return svc.sqlSvc.UpdateOtpRateLimit(rl)
}

// maybePurgeStale opportunistically prunes stale ledger rows at most once per
// purge interval, so Check stays cheap between sweeper runs.
func (svc *OtpRateLimitService) maybePurgeStale() {
	svc.purgeMutex.Lock()
	if time.Since(svc.lastPurge) < stalePurgeInterval {
		svc.purgeMutex.Unlock()
		return
	}
	svc.lastPurge = time.Now()
	svc.purgeMutex.Unlock()

	if _, err := svc.sqlSvc.CleanupStaleOtpRateLimits(); err != nil {
		log.WithError(err).Warn("Opportunistic rate limit purge failed")
	}
}

// penaltyBlockMinutes is the stateless penalty policy: block duration grows
// with accumulated abuse signal.
func penaltyBlockMinutes(requestCount int) int {
	switch {
	case requestCount > 10:
		return 60
	case requestCount > 7:
		return 45
	default:
		return 30
	}
}
