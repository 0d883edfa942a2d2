package services

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// OTC Metrics
var (
	otcCodesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_codes_issued_total",
			Help: "Total verification codes issued",
		},
		[]string{"channel"},
	)

	otcVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_verifications_total",
			Help: "Total verification attempts by outcome",
		},
		[]string{"result"},
	)

	otcRateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_rate_limit_denied_total",
			Help: "Total issuance requests denied by the rate limiter",
		},
		[]string{"reason"},
	)

	otcDeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_delivery_failures_total",
			Help: "Total delivery failures by channel",
		},
		[]string{"channel"},
	)

	otcSweepDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_sweep_deleted_total",
			Help: "Total rows deleted by the maintenance sweeper",
		},
		[]string{"store"},
	)
)

// System Metrics
var (
	heapAllocBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heap_alloc_bytes",
			Help: "Heap memory allocated in bytes",
		},
	)

	gcTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gc_total",
			Help: "Total number of garbage collections",
		},
	)
)

func recordCodeIssued(channel string) {
	otcCodesIssuedTotal.WithLabelValues(channel).Inc()
}

func recordVerification(result string) {
	otcVerificationsTotal.WithLabelValues(result).Inc()
}

func recordRateLimitDenied(reason string) {
	otcRateLimitDeniedTotal.WithLabelValues(reason).Inc()
}

func recordDeliveryFailure(channel string) {
	otcDeliveryFailuresTotal.WithLabelValues(channel).Inc()
}

func recordSweepDeleted(store string, count int64) {
	otcSweepDeletedTotal.WithLabelValues(store).Add(float64(count))
}

type MonitoringService struct {
	appContext.DefaultService

	port   int
	server *http.Server
	stop   chan struct{}
}

func (svc MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Configure(ctx *appContext.Context) error {
	svc.port = DEFAULT_PROMETHEUS_PORT
	if raw := os.Getenv("PROMETHEUS_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			svc.port = port
		}
	}

	svc.stop = make(chan struct{})

	prometheus.MustRegister(
		otcCodesIssuedTotal,
		otcVerificationsTotal,
		otcRateLimitDeniedTotal,
		otcDeliveryFailuresTotal,
		otcSweepDeletedTotal,
		heapAllocBytes,
		gcTotal,
	)

	return svc.DefaultService.Configure(ctx)
}

func (svc *MonitoringService) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	svc.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", svc.port),
		Handler: mux,
	}

	go svc.collectSystemMetrics()

	go func() {
		log.WithField("port", svc.port).Info("Prometheus metrics server starting")
		if err := svc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Prometheus metrics server failed")
		}
	}()

	return nil
}

func (svc *MonitoringService) Shutdown() {
	close(svc.stop)
	if svc.server != nil {
		_ = svc.server.Close()
	}
}

func (svc *MonitoringService) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastGC uint32

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			heapAllocBytes.Set(float64(m.HeapAlloc))
			if m.NumGC > lastGC {
				gcTotal.Add(float64(m.NumGC - lastGC))
				lastGC = m.NumGC
			}
		case <-svc.stop:
			return
		}
	}
}
