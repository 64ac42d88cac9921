package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	if c, ok := hv.WithLabelValues(labels...).(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRecordSubmitted(t *testing.T) {
	before := getCounterValue(TasksSubmittedTotal, "metrics-test", "maps/search")
	RecordSubmitted("metrics-test", "maps/search")
	RecordSubmitted("metrics-test", "maps/search")

	if got := getCounterValue(TasksSubmittedTotal, "metrics-test", "maps/search"); got != before+2 {
		t.Errorf("TasksSubmittedTotal = %f, want %f", got, before+2)
	}
}

func TestRecordResolved(t *testing.T) {
	RecordResolved("metrics-test", "Success", 250*time.Millisecond)

	if got := getCounterValue(TasksResolvedTotal, "metrics-test", "Success"); got < 1 {
		t.Errorf("TasksResolvedTotal = %f, want >= 1", got)
	}
	if got := getHistogramCount(ResolveDurationSeconds, "metrics-test"); got < 1 {
		t.Errorf("ResolveDurationSeconds sample count = %d, want >= 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordArchiveLookup("Pending")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "outscraper_sandbox_archive_lookups_total") {
		t.Errorf("metrics output missing archive lookups counter")
	}
}
