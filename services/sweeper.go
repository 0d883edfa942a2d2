package services

import (
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// SweeperService periodically purges expired codes and stale ledger rows.
// The ticker is owned by the service lifecycle and stopped on Shutdown.
type SweeperService struct {
	appContext.DefaultService

	sqlSvc *PostgresService

	interval time.Duration
	stop     chan struct{}
}

const SWEEPER_SVC = "sweeper_svc"

func (svc SweeperService) Id() string {
	return SWEEPER_SVC
}

func (svc *SweeperService) Configure(ctx *appContext.Context) error {
	svc.interval = 10 * time.Minute
	if raw := os.Getenv("OTC_SWEEP_INTERVAL_MINUTES"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			svc.interval = time.Duration(minutes) * time.Minute
		}
	}

	svc.stop = make(chan struct{})

	return svc.DefaultService.Configure(ctx)
}

func (svc *SweeperService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)

	go svc.run()

	return nil
}

func (svc *SweeperService) Shutdown() {
	close(svc.stop)
}

func (svc *SweeperService) run() {
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.Sweep()
		case <-svc.stop:
			return
		}
	}
}

// Sweep prunes both stores once.
func (svc *SweeperService) Sweep() {
	codes, err := svc.sqlSvc.CleanupExpiredCodes()
	if err != nil {
		log.WithError(err).Error("Failed to cleanup expired codes")
	} else if codes > 0 {
		recordSweepDeleted("codes", codes)
	}

	ledger, err := svc.sqlSvc.CleanupStaleOtpRateLimits()
	if err != nil {
		log.WithError(err).Error("Failed to cleanup stale rate limits")
	} else if ledger > 0 {
		recordSweepDeleted("rate_limits", ledger)
	}

	log.WithFields(log.Fields{
		"expired_codes":     codes,
		"stale_rate_limits": ledger,
	}).Debug("Sweep completed")
}
