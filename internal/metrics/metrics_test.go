package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	RecordRequest("GET", "/v1/jobs", 200, 42)

	out, err := Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(out, `dubhub_http_requests_total{method="GET",path="/v1/jobs",status="200"}`) {
		t.Fatalf("expected HTTP request metric for GET /v1/jobs in export, got:\n%s", out)
	}
	if !strings.Contains(out, "dubhub_http_request_duration_seconds_bucket") {
		t.Fatalf("expected latency histogram in export, got:\n%s", out)
	}
}

func TestRecordJobAndCreditMetrics(t *testing.T) {
	RecordJobStarted("dubbing")
	RecordJobTerminal("dubbing", "succeeded", "poller")
	RecordPollFailure("subtitles")
	RecordJobStale("subtitles")
	RecordCreditsSpent("dubbing", 60)
	RecordCreditsAdded("purchase", 500)
	RecordInsufficientCredits("video_generation")
	RecordRecovery(3, 1, 1, 0, 1)

	out, err := Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, want := range []string{
		`dubhub_jobs_started_total{job_type="dubbing"}`,
		`dubhub_jobs_terminal_total{job_type="dubbing",source="poller",status="succeeded"}`,
		`dubhub_job_poll_failures_total{job_type="subtitles"}`,
		`dubhub_jobs_stale_total{job_type="subtitles"}`,
		`dubhub_credits_spent_total{service="dubbing"} 60`,
		`dubhub_credits_added_total{type="purchase"} 500`,
		`dubhub_insufficient_credits_total{service="video_generation"}`,
		`dubhub_recovery_jobs_total{outcome="repaired"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in export, got:\n%s", want, out)
		}
	}
}

func TestRetentionIgnoresZero(t *testing.T) {
	RecordRetentionJobs("subtitles", 0)
	out, _ := Export()
	if strings.Contains(out, `dubhub_retention_jobs_deleted_total{job_type="subtitles"}`) {
		t.Fatalf("zero deletions should not create a series")
	}
}
