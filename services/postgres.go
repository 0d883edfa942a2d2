package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradeyard/otc_api/model"
)

type PostgresService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const POSTGRES_SVC = "postgres_svc"

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds PostgresService) Db() *gorm.DB {
	return ds.db
}

func (ds *PostgresService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DATABASE_URL")
	if ds.database == "" {
		// Fallback to individual environment variables
		host := os.Getenv("DB_HOST")
		if host == "" {
			host = "localhost"
		}
		port := os.Getenv("DB_PORT")
		if port == "" {
			port = "5432"
		}
		user := os.Getenv("DB_USER")
		if user == "" {
			user = "postgres"
		}
		password := os.Getenv("DB_PASSWORD")
		if password == "" {
			password = "postgres"
		}
		dbname := os.Getenv("DB_NAME")
		if dbname == "" {
			dbname = "otc_api"
		}
		sslmode := os.Getenv("DB_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}

		ds.database = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			host, user, password, dbname, port, sslmode)
	}

	return ds.DefaultService.Configure(ctx)
}

func migrationModels() []interface{} {
	return []interface{}{
		&model.VerificationCode{},
		&model.OtpRateLimit{},
		&model.AdminSetting{},
	}
}

func (ds *PostgresService) Start() (err error) {
	// Retry connection with exponential backoff
	maxRetries := 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("Attempting to connect to database (attempt %d/%d)...", attempt, maxRetries)

		ds.db, err = gorm.Open(postgres.Open(ds.database), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})

		if err == nil {
			sqlDB, dbErr := ds.db.DB()
			if dbErr == nil {
				pingErr := sqlDB.Ping()
				if pingErr == nil {
					log.Println("Successfully connected to database")
					break
				}
				err = pingErr
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			log.Printf("Failed to connect to database after %d attempts: %v", maxRetries, err)
			return err
		}

		log.Printf("Database connection failed: %v. Retrying in %v...", err, retryDelay)
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	if err := ds.db.AutoMigrate(migrationModels()...); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	return nil
}

func (ds *PostgresService) Shutdown() {
	if ds.db == nil {
		return
	}
	if sqlDB, err := ds.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (ds *PostgresService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError
		errorType = "TRANSACTION_ERROR"
	default:
		if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "duplicate key") {
			statusCode = http.StatusConflict
			errorType = "UNIQUE_CONSTRAINT"
		} else {
			statusCode = http.StatusInternalServerError
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}

// ==================== CODE STORE ====================

// CreateVerificationCode invalidates any unused code for (contact, purpose)
// and inserts the new row. Both steps run in one transaction so two unused
// codes for the same key never coexist.
func (ds *PostgresService) CreateVerificationCode(vc *model.VerificationCode) error {
	if vc.ID == "" {
		id, _ := uuid.NewV7()
		vc.ID = id.String()
	}

	now := time.Now()
	if vc.CreatedAt.IsZero() {
		vc.CreatedAt = now
	}
	vc.UpdatedAt = now

	return ds.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.VerificationCode{}).
			Where("contact = ? AND purpose = ? AND is_used = ?", vc.Contact, vc.Purpose, false).
			Updates(map[string]interface{}{"is_used": true, "updated_at": now}).Error
		if err != nil {
			return err
		}

		return tx.Create(vc).Error
	})
}

// GetLatestVerificationCode returns the most recent code row for the key
// regardless of consumption or expiry state, or nil if none exists.
func (ds *PostgresService) GetLatestVerificationCode(contact, purpose string) (*model.VerificationCode, error) {
	var vc model.VerificationCode

	err := ds.db.Where("contact = ? AND purpose = ?", contact, purpose).
		Order("created_at DESC").
		First(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &vc, nil
}

// GetValidVerificationCode returns the most recent unused, unexpired code for
// the key, or nil.
func (ds *PostgresService) GetValidVerificationCode(contact, purpose string) (*model.VerificationCode, error) {
	var vc model.VerificationCode

	err := ds.db.Where("contact = ? AND purpose = ? AND is_used = ? AND expires_at >= ?",
		contact, purpose, false, time.Now()).
		Order("created_at DESC").
		First(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &vc, nil
}

// MarkVerificationCodeUsed is idempotent.
func (ds *PostgresService) MarkVerificationCodeUsed(id string) error {
	return ds.db.Model(&model.VerificationCode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_used": true, "updated_at": time.Now()}).Error
}

// CleanupExpiredCodes physically deletes rows past expiry.
func (ds *PostgresService) CleanupExpiredCodes() (int64, error) {
	result := ds.db.Where("expires_at < ?", time.Now()).Delete(&model.VerificationCode{})
	return result.RowsAffected, result.Error
}

// ==================== RATE-LIMIT LEDGER ====================

func (ds *PostgresService) GetOtpRateLimit(contact, contactType, purpose string) (*model.OtpRateLimit, error) {
	var rl model.OtpRateLimit

	err := ds.db.Where("contact = ? AND contact_type = ? AND purpose = ?", contact, contactType, purpose).
		First(&rl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &rl, nil
}

func (ds *PostgresService) SaveOtpRateLimit(rl *model.OtpRateLimit) error {
	if rl.ID == "" {
		id, _ := uuid.NewV7()
		rl.ID = id.String()
	}

	now := time.Now()
	if rl.CreatedAt.IsZero() {
		rl.CreatedAt = now
	}
	rl.UpdatedAt = now

	return ds.db.Save(rl).Error
}

func (ds *PostgresService) UpdateOtpRateLimit(rl *model.OtpRateLimit) error {
	rl.UpdatedAt = time.Now()

	return ds.db.Model(rl).Where("id = ?", rl.ID).Updates(map[string]interface{}{
		"request_count":   rl.RequestCount,
		"window_start":    rl.WindowStart,
		"last_request_at": rl.LastRequestAt,
		"blocked_until":   rl.BlockedUntil,
		"ip_address":      rl.IPAddress,
		"user_agent":      rl.UserAgent,
		"updated_at":      rl.UpdatedAt,
	}).Error
}

// CleanupStaleOtpRateLimits removes ledger rows with no activity for 24h that
// are not currently blocked.
func (ds *PostgresService) CleanupStaleOtpRateLimits() (int64, error) {
	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)

	result := ds.db.Where("last_request_at < ? AND (blocked_until IS NULL OR blocked_until < ?)", cutoff, now).
		Delete(&model.OtpRateLimit{})
	return result.RowsAffected, result.Error
}

// ==================== ADMIN SETTINGS ====================

func (ds *PostgresService) GetAdminSetting(key string) (string, bool, error) {
	var setting model.AdminSetting

	err := ds.db.Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	return setting.Value, true, nil
}
