package services

import (
	"context"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// SettingsService is the cache-aside settings provider. The database is the
// source of truth; Redis holds values for a short TTL. The cache is advisory:
// every expiry or miss falls through to the database before a value is
// returned, and Redis being down degrades to direct reads.
type SettingsService struct {
	appContext.DefaultService

	sqlSvc   *PostgresService
	redisSvc *RedisService

	cacheTTL time.Duration
}

const SETTINGS_SVC = "settings_svc"

const settingsCachePrefix = "settings:"

func (svc SettingsService) Id() string {
	return SETTINGS_SVC
}

func (svc *SettingsService) Configure(ctx *appContext.Context) error {
	svc.cacheTTL = time.Minute
	return svc.DefaultService.Configure(ctx)
}

func (svc *SettingsService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

// GetSetting returns the setting value and whether it exists.
func (svc *SettingsService) GetSetting(ctx context.Context, key string) (string, bool, error) {
	cacheKey := settingsCachePrefix + key

	if svc.redisSvc != nil {
		cached, err := svc.redisSvc.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			return cached, true, nil
		}
	}

	value, found, err := svc.sqlSvc.GetAdminSetting(key)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	if svc.redisSvc != nil {
		if err := svc.redisSvc.Set(ctx, cacheKey, value, svc.cacheTTL); err != nil {
			log.WithError(err).WithField("key", key).Debug("Failed to cache setting")
		}
	}

	return value, true, nil
}

// GetIntSetting parses the setting as an integer, returning fallback when the
// setting is absent, unparseable, or the store is unreachable.
func (svc *SettingsService) GetIntSetting(ctx context.Context, key string, fallback int) int {
	value, found, err := svc.GetSetting(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to read setting, using default")
		return fallback
	}
	if !found {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": value}).Warn("Setting is not an integer, using default")
		return fallback
	}

	return parsed
}

// ForceRefresh drops the cached value and re-reads from the database. Callers
// use it when correctness, not just performance, depends on the value.
func (svc *SettingsService) ForceRefresh(ctx context.Context, key string) (string, bool, error) {
	if svc.redisSvc != nil {
		if err := svc.redisSvc.Delete(ctx, settingsCachePrefix+key); err != nil {
			log.WithError(err).WithField("key", key).Debug("Failed to invalidate cached setting")
		}
	}

	return svc.GetSetting(ctx, key)
}
