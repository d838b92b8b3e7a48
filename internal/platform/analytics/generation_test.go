package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestTracker_Record(t *testing.T) {
	tracker := NewTracker(100)
	tracker.Record(&GenerationMetric{
		Timestamp:  time.Now(),
		ReportType: "lab",
		StatusCode: http.StatusOK,
		Duration:   40 * time.Millisecond,
		Sections:   4,
	})
	tracker.Record(&GenerationMetric{
		Timestamp:  time.Now(),
		ReportType: "lab",
		StatusCode: http.StatusInternalServerError,
		Duration:   20 * time.Millisecond,
	})

	s := tracker.GetTypeStats("lab")
	if s == nil {
		t.Fatal("expected stats for lab")
	}
	if s.Requests != 2 || s.Failures != 1 {
		t.Errorf("expected 2 requests and 1 failure, got %d/%d", s.Requests, s.Failures)
	}
	if s.FailureRate != 0.5 {
		t.Errorf("expected failure rate 0.5, got %f", s.FailureRate)
	}
	if s.AvgLatency != 30*time.Millisecond {
		t.Errorf("expected avg 30ms, got %s", s.AvgLatency)
	}
	if s.StatusBreakdown[200] != 1 || s.StatusBreakdown[500] != 1 {
		t.Errorf("unexpected status breakdown: %v", s.StatusBreakdown)
	}
}

func TestTracker_UnknownType(t *testing.T) {
	if s := NewTracker(10).GetTypeStats("financial"); s != nil {
		t.Errorf("expected nil, got %+v", s)
	}
}

func TestTracker_RingBufferBounded(t *testing.T) {
	tracker := NewTracker(10)
	for i := 0; i < 25; i++ {
		tracker.Record(&GenerationMetric{Timestamp: time.Now(), ReportType: "visits", StatusCode: 200})
	}

	tracker.mu.RLock()
	n := len(tracker.metrics)
	tracker.mu.RUnlock()
	if n != 10 {
		t.Errorf("expected 10 stored metrics, got %d", n)
	}
	if got := tracker.GetOverview().TotalRequests; got != 25 {
		t.Errorf("expected counters to keep all 25 requests, got %d", got)
	}
}

func TestTracker_P95(t *testing.T) {
	tracker := NewTracker(200)
	for i := 1; i <= 100; i++ {
		tracker.Record(&GenerationMetric{
			Timestamp:  time.Now(),
			ReportType: "morbidity",
			StatusCode: 200,
			Duration:   time.Duration(i) * time.Millisecond,
		})
	}
	if p95 := tracker.GetTypeStats("morbidity").P95Latency; p95 != 96*time.Millisecond {
		t.Errorf("expected p95 96ms, got %s", p95)
	}
}

func TestTracker_OverviewOrder(t *testing.T) {
	tracker := NewTracker(100)
	for _, typ := range []string{"lab", "dispensing", "dispensing", "referrals", "dispensing", "lab"} {
		tracker.Record(&GenerationMetric{Timestamp: time.Now(), ReportType: typ, StatusCode: 200})
	}

	o := tracker.GetOverview()
	want := []string{"dispensing", "lab", "referrals"}
	if len(o.Types) != len(want) {
		t.Fatalf("expected %d types, got %d", len(want), len(o.Types))
	}
	for i, w := range want {
		if o.Types[i].ReportType != w {
			t.Errorf("types[%d] = %s, want %s", i, o.Types[i].ReportType, w)
		}
	}
}

func TestTracker_TimeSeries(t *testing.T) {
	tracker := NewTracker(100)
	now := time.Now()
	tracker.Record(&GenerationMetric{Timestamp: now.Add(-30 * time.Minute), ReportType: "lab", StatusCode: 200, Duration: time.Second})
	tracker.Record(&GenerationMetric{Timestamp: now.Add(-30 * time.Minute), ReportType: "lab", StatusCode: 500, Duration: 3 * time.Second})
	tracker.Record(&GenerationMetric{Timestamp: now.Add(-48 * time.Hour), ReportType: "lab", StatusCode: 200})

	var requests, failures int64
	for _, b := range tracker.GetTimeSeries(time.Hour, 24*time.Hour) {
		requests += b.RequestCount
		failures += b.FailureCount
		if b.RequestCount == 2 && b.AvgLatency != 2*time.Second {
			t.Errorf("expected avg 2s, got %s", b.AvgLatency)
		}
	}
	if requests != 2 || failures != 1 {
		t.Errorf("expected 2 requests and 1 failure in window, got %d/%d", requests, failures)
	}
}

func TestTracker_TimeSeriesBounded(t *testing.T) {
	tracker := NewTracker(10)
	tests := []struct {
		name               string
		interval, duration time.Duration
		want               int
	}{
		{"microsecond buckets over a year", time.Microsecond, 8760 * time.Hour, MaxTimeSeriesBuckets + 1},
		{"millisecond buckets over an hour", 10 * time.Millisecond, time.Hour, MaxTimeSeriesBuckets + 1},
		{"zero interval", 0, time.Hour, MaxTimeSeriesBuckets + 1},
		{"window over the limit", 24 * time.Hour, 365 * 24 * time.Hour, 91},
		{"interval wider than window", 48 * time.Hour, time.Hour, 2},
		{"unchanged", time.Hour, 24 * time.Hour, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(tracker.GetTimeSeries(tt.interval, tt.duration))
			if got != tt.want {
				t.Errorf("expected %d buckets, got %d", tt.want, got)
			}
			if got > MaxTimeSeriesBuckets+1 {
				t.Errorf("bucket count %d above limit", got)
			}
		})
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Record(&GenerationMetric{Timestamp: time.Now(), ReportType: "visits", StatusCode: 200})
				_ = tracker.GetOverview()
			}
		}()
	}
	wg.Wait()

	if got := tracker.GetTypeStats("visits").Requests; got != 1000 {
		t.Errorf("expected 1000 requests, got %d", got)
	}
}

func TestStatsHandler(t *testing.T) {
	tracker := NewTracker(10)
	tracker.Record(&GenerationMetric{Timestamp: time.Now(), ReportType: "financial", StatusCode: 200})
	h := NewStatsHandler(tracker)

	e := echo.New()
	g := e.Group("/api/v1/reports")
	h.RegisterRoutes(g)

	t.Run("overview", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var o Overview
		if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if o.TotalRequests != 1 || len(o.Types) != 1 {
			t.Errorf("unexpected overview: %+v", o)
		}
	})

	t.Run("type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats/financial", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("timeseries clamps tiny interval", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats/timeseries?interval=1us&duration=8760h", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var buckets []TimeSeriesBucket
		if err := json.Unmarshal(rec.Body.Bytes(), &buckets); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(buckets) > MaxTimeSeriesBuckets+1 {
			t.Errorf("expected at most %d buckets, got %d", MaxTimeSeriesBuckets+1, len(buckets))
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats/lab", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("timeseries", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stats/timeseries?interval=30m&duration=2h", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var buckets []TimeSeriesBucket
		if err := json.Unmarshal(rec.Body.Bytes(), &buckets); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(buckets) != 5 {
			t.Errorf("expected 5 buckets, got %d", len(buckets))
		}
	})
}

func TestParseDurationParam(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Hour},
		{"15m", 15 * time.Minute},
		{"90", 90 * time.Minute},
		{"-5m", time.Hour},
		{"garbage", time.Hour},
	}
	for _, tt := range tests {
		if got := parseDurationParam(tt.in, time.Hour); got != tt.want {
			t.Errorf("parseDurationParam(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
