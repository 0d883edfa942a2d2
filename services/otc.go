package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/tradeyard/otc_api/dto"
	"github.com/tradeyard/otc_api/model"
	"github.com/tradeyard/otc_api/shared"
)

// Delivery-channel boundaries. The transports are fire-and-forget
// collaborators; the core only depends on these two methods.
type codeEmailSender interface {
	SendVerificationCodeEmail(ctx context.Context, toAddress, code, purpose string) error
}

type codeMessageSender interface {
	SendCodeMessage(ctx context.Context, phoneWithoutPlus, code string) error
}

// OtcService issues and verifies short-lived numeric codes that authenticate
// a contact for a stated purpose.
type OtcService struct {
	appContext.DefaultService

	sqlSvc       *PostgresService
	rateLimitSvc *OtpRateLimitService
	emailSvc     codeEmailSender
	msgSvc       codeMessageSender

	environment     string
	codeLength      int
	codeTTL         time.Duration
	deliveryTimeout time.Duration
}

const OTC_SVC = "otc_svc"

// Verification failures at or above this ledger count trigger the penalty
// policy.
const failedAttemptThreshold = 3

func (svc OtcService) Id() string {
	return OTC_SVC
}

func (svc *OtcService) Configure(ctx *appContext.Context) error {
	svc.environment = os.Getenv("APP_ENV")
	if svc.environment == "" {
		svc.environment = shared.EnvDevelopment
	}

	svc.codeLength = 4
	svc.codeTTL = 5 * time.Minute
	svc.deliveryTimeout = 20 * time.Second

	return svc.DefaultService.Configure(ctx)
}

func (svc *OtcService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.rateLimitSvc = svc.Service(OTP_RATE_LIMIT_SVC).(*OtpRateLimitService)
	svc.emailSvc = svc.Service(EMAIL_SVC).(*EmailService)
	svc.msgSvc = svc.Service(WHATSAPP_SVC).(*WhatsappService)
	return nil
}

// ==================== ISSUANCE ====================

// SendCode generates, persists and dispatches a new code for the contact.
// Once the code is persisted the issuance has succeeded; a delivery failure
// is surfaced as a distinct transport error without rolling anything back.
func (svc *OtcService) SendCode(ctx context.Context, req dto.SendCodeRequest, ip, userAgent string) (*dto.SendCodeResponse, error) {
	check, err := svc.rateLimitSvc.Check(ctx, req.Contact, req.ContactType, req.Purpose, ip)
	if err != nil {
		// Fail closed: a ledger read failure is a denial.
		return nil, err
	}

	if !check.Allowed {
		recordRateLimitDenied(deniedReason(check))
		if check.BlockedUntil != nil {
			return nil, shared.ErrBlocked(check.RetryAfterMinutes())
		}
		return nil, shared.ErrRateLimited(check.RetryAfterMinutes())
	}

	// Write-before-send: a crash after this point costs the caller one
	// request from the window but never leaks an uncounted code.
	if err := svc.rateLimitSvc.Record(ctx, req.Contact, req.ContactType, req.Purpose, ip, userAgent); err != nil {
		log.WithError(err).WithField("contact", req.Contact).Error("Failed to record OTP request")
		return nil, shared.ErrInternal(err)
	}

	code, err := generateNumericCode(svc.codeLength)
	if err != nil {
		log.WithError(err).Error("Failed to generate verification code")
		return nil, shared.ErrInternal(err)
	}

	vc := &model.VerificationCode{
		Contact:     req.Contact,
		ContactType: req.ContactType,
		Purpose:     req.Purpose,
		Code:        code,
		ExpiresAt:   time.Now().Add(svc.codeTTL),
	}

	if err := svc.sqlSvc.CreateVerificationCode(vc); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"contact": req.Contact,
			"purpose": req.Purpose,
		}).Error("Failed to persist verification code")
		return nil, shared.ErrInternal(err)
	}

	if err := svc.dispatch(ctx, req, code); err != nil {
		recordDeliveryFailure(req.ContactType)
		log.WithError(err).WithFields(log.Fields{
			"contact": req.Contact,
			"channel": req.ContactType,
		}).Error("Failed to deliver verification code")
		return nil, shared.ErrTransportUnavailable(err)
	}

	recordCodeIssued(req.ContactType)

	resp := &dto.SendCodeResponse{
		Status:           shared.StatusSent,
		Message:          "Verification code sent.",
		ExpiresInSeconds: int(svc.codeTTL / time.Second),
		Delivered:        true,
	}

	if svc.environment != shared.EnvProduction {
		resp.DevCode = code
	}

	return resp, nil
}

func (svc *OtcService) dispatch(ctx context.Context, req dto.SendCodeRequest, code string) error {
	dctx, cancel := context.WithTimeout(ctx, svc.deliveryTimeout)
	defer cancel()

	switch req.ContactType {
	case shared.ContactTypeEmail:
		return svc.emailSvc.SendVerificationCodeEmail(dctx, req.Contact, code, req.Purpose)
	case shared.ContactTypePhone:
		return svc.msgSvc.SendCodeMessage(dctx, strings.TrimPrefix(req.Contact, "+"), code)
	default:
		return fmt.Errorf("unsupported contact type %q", req.ContactType)
	}
}

// ==================== VERIFICATION ====================

// VerifyCode drives one verification attempt: Accepted, Invalid, Expired or
// Reused. Infrastructure failures come back as errors; outcomes are results.
func (svc *OtcService) VerifyCode(ctx context.Context, req dto.VerifyCodeRequest, ip string) (*dto.VerifyCodeResult, error) {
	if svc.environment != shared.EnvProduction && isDevBypassCode(req.Code) {
		return svc.verifyWithBypass(ctx, req)
	}

	vc, err := svc.sqlSvc.GetLatestVerificationCode(req.Contact, req.Purpose)
	if err != nil {
		log.WithError(err).WithField("contact", req.Contact).Error("Failed to look up verification code")
		return nil, shared.ErrInternal(err)
	}

	if vc == nil {
		// Could be a code that was never requested; not suspicious by itself.
		shouldBlock := svc.escalateFailure(ctx, req.Contact, req.ContactType, req.Purpose, ip)
		recordVerification(shared.StatusInvalidCode)
		return &dto.VerifyCodeResult{
			Status:      shared.StatusInvalidCode,
			Message:     "Invalid verification code.",
			ShouldBlock: shouldBlock,
		}, nil
	}

	if vc.IsUsed {
		// Replay of a consumed code is inherently suspicious; always escalate.
		svc.escalateReuse(ctx, req.Contact, req.ContactType, req.Purpose)
		recordVerification(shared.StatusReusedCode)
		return &dto.VerifyCodeResult{
			Status:      shared.StatusReusedCode,
			Message:     "This code has already been used. Please request a new one.",
			ShouldBlock: true,
		}, nil
	}

	if time.Now().After(vc.ExpiresAt) {
		// Expiry is benign; consume the row but do not escalate.
		if err := svc.sqlSvc.MarkVerificationCodeUsed(vc.ID); err != nil {
			log.WithError(err).WithField("code_id", vc.ID).Warn("Failed to mark expired code used")
		}
		recordVerification(shared.StatusExpiredCode)
		return &dto.VerifyCodeResult{
			Status:  shared.StatusExpiredCode,
			Message: "This code has expired. Please request a new one.",
		}, nil
	}

	if !constantTimeEqual(vc.Code, req.Code) {
		shouldBlock := svc.escalateFailure(ctx, req.Contact, req.ContactType, req.Purpose, ip)
		recordVerification(shared.StatusInvalidCode)
		return &dto.VerifyCodeResult{
			Status:      shared.StatusInvalidCode,
			Message:     "Invalid verification code.",
			ShouldBlock: shouldBlock,
		}, nil
	}

	if err := svc.sqlSvc.MarkVerificationCodeUsed(vc.ID); err != nil {
		log.WithError(err).WithField("code_id", vc.ID).Error("Failed to consume verification code")
		return nil, shared.ErrInternal(err)
	}

	if err := svc.rateLimitSvc.Reset(ctx, req.Contact, req.ContactType, req.Purpose); err != nil {
		log.WithError(err).WithField("contact", req.Contact).Warn("Failed to reset rate limit after verification")
	}

	recordVerification(shared.StatusAccepted)
	return &dto.VerifyCodeResult{
		Status:  shared.StatusAccepted,
		Message: "Code accepted.",
	}, nil
}

// verifyWithBypass accepts a sentinel code outside production. It performs
// the same consumption bookkeeping so ledger and store state stay consistent.
func (svc *OtcService) verifyWithBypass(ctx context.Context, req dto.VerifyCodeRequest) (*dto.VerifyCodeResult, error) {
	vc, err := svc.sqlSvc.GetValidVerificationCode(req.Contact, req.Purpose)
	if err != nil {
		return nil, shared.ErrInternal(err)
	}
	if vc != nil {
		if err := svc.sqlSvc.MarkVerificationCodeUsed(vc.ID); err != nil {
			return nil, shared.ErrInternal(err)
		}
	}

	if err := svc.rateLimitSvc.Reset(ctx, req.Contact, req.ContactType, req.Purpose); err != nil {
		log.WithError(err).WithField("contact", req.Contact).Warn("Failed to reset rate limit after bypass")
	}

	log.WithFields(log.Fields{
		"contact":     req.Contact,
		"purpose":     req.Purpose,
		"environment": svc.environment,
	}).Warn("Verification bypass code accepted")

	recordVerification(shared.StatusAccepted)
	return &dto.VerifyCodeResult{
		Status:  shared.StatusAccepted,
		Message: "Code accepted.",
	}, nil
}

// escalateFailure reads the ledger count; at or above the threshold it writes
// a penalty block and reports it. Below the threshold the failed attempt is
// recorded against the window.
func (svc *OtcService) escalateFailure(ctx context.Context, contact, contactType, purpose, ip string) bool {
	rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose)
	if err != nil {
		log.WithError(err).WithField("contact", contact).Warn("Failed to read ledger during escalation")
		return false
	}

	count := 0
	if rl != nil {
		count = rl.RequestCount
	}

	if count >= failedAttemptThreshold {
		if err := svc.rateLimitSvc.Block(ctx, contact, contactType, purpose, penaltyBlockMinutes(count)); err != nil {
			log.WithError(err).WithField("contact", contact).Error("Failed to write penalty block")
		}
		return true
	}

	if err := svc.rateLimitSvc.Record(ctx, contact, contactType, purpose, ip, ""); err != nil {
		log.WithError(err).WithField("contact", contact).Warn("Failed to record verification failure")
	}

	return false
}

func (svc *OtcService) escalateReuse(ctx context.Context, contact, contactType, purpose string) {
	count := 0
	if rl, err := svc.sqlSvc.GetOtpRateLimit(contact, contactType, purpose); err == nil && rl != nil {
		count = rl.RequestCount
	}

	if err := svc.rateLimitSvc.Block(ctx, contact, contactType, purpose, penaltyBlockMinutes(count)); err != nil {
		log.WithError(err).WithField("contact", contact).Error("Failed to block after code reuse")
	}
}

// ==================== HELPERS ====================

// generateNumericCode draws a fixed-length numeric string from crypto/rand.
func generateNumericCode(length int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < length; i++ {
		bound.Mul(bound, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", length, n), nil
}

// constantTimeEqual compares equal-length inputs without data-dependent
// timing. Length mismatches short-circuit, which is fine: code length is
// fixed and public.
func constantTimeEqual(stored, submitted string) bool {
	if len(stored) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

func isDevBypassCode(code string) bool {
	for _, sentinel := range shared.DevBypassCodes {
		if code == sentinel {
			return true
		}
	}
	return false
}

func deniedReason(check *dto.OtpRateLimitResult) string {
	if check.BlockedUntil != nil {
		return shared.StatusBlocked
	}
	return shared.StatusRateLimited
}
