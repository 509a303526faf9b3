package metrics

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Registry holds every dubhub collector. A dedicated registry keeps tests
// independent of the global default one.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dubhub_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	jobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_jobs_started_total",
		Help: "Jobs accepted and submitted to a vendor",
	}, []string{"job_type"})

	jobsTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_jobs_terminal_total",
		Help: "Terminal status transitions by writer",
	}, []string{"job_type", "status", "source"})

	pollFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_job_poll_failures_total",
		Help: "Failed vendor status polls",
	}, []string{"job_type"})

	jobsStale = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_jobs_stale_total",
		Help: "Jobs parked as stale after repeated poll failures",
	}, []string{"job_type"})

	activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dubhub_jobs_tracked",
		Help: "Jobs currently polled by this process",
	})

	recoveryOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_recovery_jobs_total",
		Help: "Jobs handled by the recovery pass by outcome",
	}, []string{"outcome"})

	recoveryRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dubhub_recovery_runs_total",
		Help: "Completed recovery passes",
	})

	creditsSpent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_credits_spent_total",
		Help: "Credits debited by service",
	}, []string{"service"})

	creditsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_credits_added_total",
		Help: "Credits added by transaction type",
	}, []string{"type"})

	insufficientCredits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_insufficient_credits_total",
		Help: "Debits rejected for insufficient balance",
	}, []string{"service"})

	retentionJobsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dubhub_retention_jobs_deleted_total",
		Help: "Total jobs deleted by TTL",
	}, []string{"job_type"})
)

func init() {
	Registry.MustRegister(
		httpRequests, httpLatency,
		jobsStarted, jobsTerminal, pollFailures, jobsStale, activeJobs,
		recoveryOutcomes, recoveryRuns,
		creditsSpent, creditsAdded, insufficientCredits,
		retentionJobsDeleted,
		collectors.NewGoCollector(),
	)
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, path).Observe(float64(latencyMs) / 1000)
}

func RecordJobStarted(jobType string) {
	jobsStarted.WithLabelValues(jobType).Inc()
}

// RecordJobTerminal counts a terminal transition. source is "poller" or
// "recovery", whichever performed the write.
func RecordJobTerminal(jobType, status, source string) {
	jobsTerminal.WithLabelValues(jobType, status, source).Inc()
}

func RecordPollFailure(jobType string) {
	pollFailures.WithLabelValues(jobType).Inc()
}

func RecordJobStale(jobType string) {
	jobsStale.WithLabelValues(jobType).Inc()
}

func SetTrackedJobs(n int) {
	activeJobs.Set(float64(n))
}

// RecordRecovery adds the per-outcome counts of one recovery pass.
func RecordRecovery(checked, updated, repaired, failed, cached int) {
	recoveryRuns.Inc()
	recoveryOutcomes.WithLabelValues("checked").Add(float64(checked))
	recoveryOutcomes.WithLabelValues("updated").Add(float64(updated))
	recoveryOutcomes.WithLabelValues("repaired").Add(float64(repaired))
	recoveryOutcomes.WithLabelValues("failed").Add(float64(failed))
	recoveryOutcomes.WithLabelValues("cached").Add(float64(cached))
}

func RecordCreditsSpent(service string, amount int64) {
	if amount <= 0 {
		return
	}
	creditsSpent.WithLabelValues(service).Add(float64(amount))
}

func RecordCreditsAdded(txType string, amount int64) {
	if amount <= 0 {
		return
	}
	creditsAdded.WithLabelValues(txType).Add(float64(amount))
}

func RecordInsufficientCredits(service string) {
	insufficientCredits.WithLabelValues(service).Inc()
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL for
// a given job type.
func RecordRetentionJobs(jobType string, deleted int64) {
	if deleted <= 0 {
		return
	}
	retentionJobsDeleted.WithLabelValues(jobType).Add(float64(deleted))
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Export returns Prometheus-style metrics text.
func Export() (string, error) {
	families, err := Registry.Gather()
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	enc := expfmt.NewEncoder(&b, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
