package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"imagepump/internal/domain"
)

func TestCollectorRecordsJobsAndRuns(t *testing.T) {
	c := NewCollector()
	c.ObserveJob("google", "completed", 3, 2*time.Second)
	c.ObserveJob("google", "failed", 2, time.Second)
	c.ObserveRun("google", domain.Summary{Succeeded: 1, Failed: 1, Cancelled: 2, Total: 4})

	if got := testutil.ToFloat64(c.jobsTotal.WithLabelValues("google", "completed")); got != 1 {
		t.Fatalf("completed = %v", got)
	}
	if got := testutil.ToFloat64(c.runJobs.WithLabelValues("google", "cancelled")); got != 2 {
		t.Fatalf("cancelled = %v", got)
	}
	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("google")); got != 1 {
		t.Fatalf("runs = %v", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ObserveArchive(1024)
	if got := testutil.ToFloat64(b.archivesTotal); got != 0 {
		t.Fatalf("collectors share state: %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTP("POST", "/v1/generate", 200, 150*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `imagepump_http_requests_total{method="POST",route="/v1/generate",status="200"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
