package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiErrors   *CounterVec

	ledgerOps          *CounterVec
	submissions        *CounterVec
	compensations      *CounterVec
	persistenceAlerts  *Counter
	providerRequests   *CounterVec
	providerLatency    *HistogramVec
	reconcilePasses    *CounterVec
	reconcileLatency   *HistogramVec
	reconcileUpdates   *CounterVec
	reconcileTransient *CounterVec
	rehostFallbacks    *Counter
	jobsByStatus       *GaugeVec
	sagasOpen          *GaugeVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	workerTotal *Counter
	workerError *Counter
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// Init returns the process-wide registry, or nil when metrics are disabled.
// Every method on a nil *Metrics is a no-op.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New builds an unregistered set of series. Tests use it directly.
func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("dub_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"dub_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("dub_api_inflight_requests", "In-flight API requests."),
		apiErrors:   NewCounterVec("dub_api_errors_total", "API error responses by route/code.", []string{"route", "code"}),

		ledgerOps:         NewCounterVec("dub_ledger_operations_total", "Ledger operations by op/result.", []string{"op", "result"}),
		submissions:       NewCounterVec("dub_submissions_total", "Job submissions by service/result.", []string{"service", "result"}),
		compensations:     NewCounterVec("dub_compensations_total", "Compensating refunds by reason.", []string{"reason"}),
		persistenceAlerts: NewCounter("dub_persistence_alerts_total", "Jobs accepted by the provider that could not be recorded locally."),
		providerRequests:  NewCounterVec("dub_provider_requests_total", "Provider API calls by op/status.", []string{"op", "status"}),
		providerLatency: NewHistogramVec(
			"dub_provider_request_duration_seconds",
			"Provider API latency in seconds by op.",
			[]string{"op"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		),
		reconcilePasses: NewCounterVec("dub_reconcile_passes_total", "Reconcile passes by result.", []string{"result"}),
		reconcileLatency: NewHistogramVec(
			"dub_reconcile_pass_duration_seconds",
			"Reconcile pass duration in seconds.",
			[]string{"result"},
			[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		),
		reconcileUpdates:   NewCounterVec("dub_reconcile_updates_total", "Job rows changed by the reconciler, by new status.", []string{"status"}),
		reconcileTransient: NewCounterVec("dub_reconcile_transient_errors_total", "Transient reconcile errors by stage.", []string{"stage"}),
		rehostFallbacks:    NewCounter("dub_rehost_fallbacks_total", "Outputs stored with the provider URL because re-hosting failed."),
		jobsByStatus:       NewGaugeVec("dub_jobs", "Jobs by status.", []string{"status"}),
		sagasOpen:          NewGaugeVec("dub_sagas", "Submission sagas by status.", []string{"status"}),

		pgStats:   NewGaugeVec("dub_postgres_pool", "Postgres pool stats.", []string{"stat"}),
		redisUp:   NewGauge("dub_redis_up", "Redis reachability (1=up)."),
		redisPing: NewGauge("dub_redis_ping_seconds", "Redis ping latency in seconds."),

		workerTotal: NewCounter("dub_worker_ticks_total", "Background worker ticks."),
		workerError: NewCounter("dub_worker_errors_total", "Background worker ticks that failed or panicked."),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	series := []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors,
		m.ledgerOps, m.submissions, m.compensations, m.persistenceAlerts,
		m.providerRequests, m.providerLatency,
		m.reconcilePasses, m.reconcileLatency, m.reconcileUpdates, m.reconcileTransient, m.rehostFallbacks,
		m.jobsByStatus, m.sagasOpen,
		m.pgStats, m.redisUp, m.redisPing,
		m.workerTotal, m.workerError,
	}
	for _, s := range series {
		if err := s.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

// ObserveAPIError counts an error envelope by its code, so refusals such as
// insufficient_credits can be told apart from server faults.
func (m *Metrics) ObserveAPIError(route, code string) {
	if m == nil || code == "" {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiErrors.Inc(route, code)
}

func (m *Metrics) APIErrors(route, code string) float64 {
	if m == nil {
		return 0
	}
	return m.apiErrors.Value(route, code)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncLedger(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.Inc(op, result)
}

func (m *Metrics) LedgerCount(op, result string) float64 {
	if m == nil {
		return 0
	}
	return m.ledgerOps.Value(op, result)
}

func (m *Metrics) IncSubmission(service, result string) {
	if m == nil {
		return
	}
	m.submissions.Inc(service, result)
}

func (m *Metrics) SubmissionCount(service, result string) float64 {
	if m == nil {
		return 0
	}
	return m.submissions.Value(service, result)
}

func (m *Metrics) IncCompensation(reason string) {
	if m == nil {
		return
	}
	m.compensations.Inc(reason)
}

func (m *Metrics) CompensationCount(reason string) float64 {
	if m == nil {
		return 0
	}
	return m.compensations.Value(reason)
}

func (m *Metrics) IncPersistenceAlert() {
	if m == nil {
		return
	}
	m.persistenceAlerts.Inc()
}

func (m *Metrics) PersistenceAlerts() float64 {
	if m == nil {
		return 0
	}
	return m.persistenceAlerts.Value()
}

func (m *Metrics) ObserveProvider(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.Inc(op, status)
	m.providerLatency.Observe(dur.Seconds(), op)
}

func (m *Metrics) ObserveReconcilePass(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.reconcilePasses.Inc(result)
	if dur > 0 {
		m.reconcileLatency.Observe(dur.Seconds(), result)
	}
}

func (m *Metrics) ReconcilePasses(result string) float64 {
	if m == nil {
		return 0
	}
	return m.reconcilePasses.Value(result)
}

func (m *Metrics) IncReconcileUpdate(status string) {
	if m == nil {
		return
	}
	m.reconcileUpdates.Inc(status)
}

func (m *Metrics) ReconcileUpdates(status string) float64 {
	if m == nil {
		return 0
	}
	return m.reconcileUpdates.Value(status)
}

func (m *Metrics) IncReconcileTransient(stage string) {
	if m == nil {
		return
	}
	m.reconcileTransient.Inc(stage)
}

func (m *Metrics) ReconcileTransient(stage string) float64 {
	if m == nil {
		return 0
	}
	return m.reconcileTransient.Value(stage)
}

func (m *Metrics) IncRehostFallback() {
	if m == nil {
		return
	}
	m.rehostFallbacks.Inc()
}

func (m *Metrics) RehostFallbacks() float64 {
	if m == nil {
		return 0
	}
	return m.rehostFallbacks.Value()
}

func (m *Metrics) IncWorker(failed bool) {
	if m == nil {
		return
	}
	m.workerTotal.Inc()
	if failed {
		m.workerError.Inc()
	}
}

func (m *Metrics) WorkerFailures() float64 {
	if m == nil {
		return 0
	}
	return m.workerError.Value()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobCollector samples job and saga counts by status.
func (m *Metrics) StartJobCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collectStatusCounts(ctx, log, db)
			}
		}
	}()
}

func (m *Metrics) collectStatusCounts(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var jobs []statusCount
	if err := db.WithContext(ctx).
		Model(&types.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&jobs).Error; err != nil {
		if log != nil {
			log.Warn("metrics: job status query failed", "error", err)
		}
		return
	}
	for _, s := range []types.JobStatus{types.JobQueued, types.JobRunning, types.JobSucceeded, types.JobFailed} {
		m.jobsByStatus.Set(0, string(s))
	}
	for _, row := range jobs {
		m.jobsByStatus.Set(float64(row.Count), row.Status)
	}

	var sagas []statusCount
	if err := db.WithContext(ctx).
		Model(&types.SubmissionSaga{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&sagas).Error; err != nil {
		if log != nil {
			log.Warn("metrics: saga status query failed", "error", err)
		}
		return
	}
	for _, row := range sagas {
		m.sagasOpen.Set(float64(row.Count), row.Status)
	}
}
