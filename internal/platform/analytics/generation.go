package analytics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Core metric type
// ---------------------------------------------------------------------------

// GenerationMetric captures one report generation attempt.
type GenerationMetric struct {
	Timestamp  time.Time     `json:"timestamp"`
	ReportType string        `json:"report_type"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	UserID     string        `json:"user_id"`
	Sections   int           `json:"sections"`
}

// Failed reports whether the attempt produced no report.
func (m *GenerationMetric) Failed() bool { return m.StatusCode >= 400 }

type typeStats struct {
	requests      int64
	failures      int64
	totalDuration int64 // nanoseconds
	statusCounts  map[int]int64
	lastAt        time.Time
}

// ---------------------------------------------------------------------------
// Summary types
// ---------------------------------------------------------------------------

// TypeSummary aggregates generations of one report type.
type TypeSummary struct {
	ReportType      string        `json:"report_type"`
	Requests        int64         `json:"requests"`
	Failures        int64         `json:"failures"`
	FailureRate     float64       `json:"failure_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
	LastGeneratedAt time.Time     `json:"last_generated_at"`
}

// Overview summarizes all generations since start.
type Overview struct {
	TotalRequests int64          `json:"total_requests"`
	TotalFailures int64          `json:"total_failures"`
	FailureRate   float64        `json:"failure_rate"`
	AvgLatency    time.Duration  `json:"avg_latency"`
	Types         []*TypeSummary `json:"types"`
}

// TimeSeriesBucket holds generation counts for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestCount int64         `json:"request_count"`
	FailureCount int64         `json:"failure_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

// Tracker records report generations in a bounded ring buffer plus per-type
// counters. It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	metrics    []*GenerationMetric
	maxMetrics int
	writePos   int
	full       bool
	types      map[string]*typeStats

	totalRequests int64
	totalFailures int64
	totalDuration int64
}

// NewTracker creates a tracker keeping the last maxMetrics generations for
// latency percentiles and time series.
func NewTracker(maxMetrics int) *Tracker {
	if maxMetrics <= 0 {
		maxMetrics = 10000
	}
	return &Tracker{
		metrics:    make([]*GenerationMetric, 0, maxMetrics),
		maxMetrics: maxMetrics,
		types:      make(map[string]*typeStats),
	}
}

// Record adds one generation.
func (t *Tracker) Record(m *GenerationMetric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.full {
		t.metrics[t.writePos] = m
	} else {
		t.metrics = append(t.metrics, m)
	}
	t.writePos++
	if t.writePos >= t.maxMetrics {
		t.writePos = 0
		t.full = true
	}

	st, ok := t.types[m.ReportType]
	if !ok {
		st = &typeStats{statusCounts: make(map[int]int64)}
		t.types[m.ReportType] = st
	}
	st.requests++
	st.totalDuration += int64(m.Duration)
	st.statusCounts[m.StatusCode]++
	if m.Timestamp.After(st.lastAt) {
		st.lastAt = m.Timestamp
	}

	t.totalRequests++
	t.totalDuration += int64(m.Duration)
	if m.Failed() {
		st.failures++
		t.totalFailures++
	}
}

// GetTypeStats returns the summary for one report type, or nil if it has
// never been requested.
func (t *Tracker) GetTypeStats(reportType string) *TypeSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.types[reportType]
	if !ok {
		return nil
	}
	return t.summarize(reportType, st)
}

// GetOverview returns totals and per-type summaries, busiest type first.
func (t *Tracker) GetOverview() *Overview {
	t.mu.RLock()
	defer t.mu.RUnlock()

	o := &Overview{
		TotalRequests: t.totalRequests,
		TotalFailures: t.totalFailures,
		FailureRate:   rate(t.totalFailures, t.totalRequests),
		Types:         make([]*TypeSummary, 0, len(t.types)),
	}
	if t.totalRequests > 0 {
		o.AvgLatency = time.Duration(t.totalDuration / t.totalRequests)
	}
	for name, st := range t.types {
		o.Types = append(o.Types, t.summarize(name, st))
	}
	sort.Slice(o.Types, func(i, j int) bool {
		if o.Types[i].Requests != o.Types[j].Requests {
			return o.Types[i].Requests > o.Types[j].Requests
		}
		return o.Types[i].ReportType < o.Types[j].ReportType
	})
	return o
}

// GetTimeSeries returns generation counts bucketed by interval over the
// lookback duration ending now. Out-of-range arguments are clamped.
func (t *Tracker) GetTimeSeries(interval, duration time.Duration) []*TimeSeriesBucket {
	interval, duration = seriesBounds(interval, duration)
	now := time.Now()
	start := now.Add(-duration).Truncate(interval)
	numBuckets := int(duration/interval) + 1

	buckets := make([]*TimeSeriesBucket, numBuckets)
	for i := range buckets {
		buckets[i] = &TimeSeriesBucket{Timestamp: start.Add(time.Duration(i) * interval)}
	}

	t.mu.RLock()
	for _, m := range t.metrics {
		if m.Timestamp.Before(start) || m.Timestamp.After(now) {
			continue
		}
		idx := int(m.Timestamp.Sub(start) / interval)
		if idx < 0 || idx >= numBuckets {
			continue
		}
		buckets[idx].RequestCount++
		if m.Failed() {
			buckets[idx].FailureCount++
		}
		buckets[idx].AvgLatency += m.Duration
	}
	t.mu.RUnlock()

	for _, b := range buckets {
		if b.RequestCount > 0 {
			b.AvgLatency = time.Duration(int64(b.AvgLatency) / b.RequestCount)
		}
	}
	return buckets
}

// Time series limits. A series never has more than MaxTimeSeriesBuckets
// full buckets plus the partial current one.
const (
	MaxTimeSeriesBuckets = 1000
	MaxTimeSeriesWindow  = 90 * 24 * time.Hour
	MinTimeSeriesBucket  = time.Second
)

// seriesBounds clamps a requested window and bucket width to the limits.
func seriesBounds(interval, duration time.Duration) (time.Duration, time.Duration) {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	if duration > MaxTimeSeriesWindow {
		duration = MaxTimeSeriesWindow
	}
	if floor := (duration + MaxTimeSeriesBuckets - 1) / MaxTimeSeriesBuckets; interval < floor {
		interval = floor
	}
	if interval < MinTimeSeriesBucket {
		interval = MinTimeSeriesBucket
	}
	if interval > duration {
		interval = duration
	}
	return interval, duration
}

// summarize must be called with t.mu held.
func (t *Tracker) summarize(reportType string, st *typeStats) *TypeSummary {
	s := &TypeSummary{
		ReportType:      reportType,
		Requests:        st.requests,
		Failures:        st.failures,
		FailureRate:     rate(st.failures, st.requests),
		P95Latency:      t.p95(reportType),
		StatusBreakdown: make(map[int]int64, len(st.statusCounts)),
		LastGeneratedAt: st.lastAt,
	}
	if st.requests > 0 {
		s.AvgLatency = time.Duration(st.totalDuration / st.requests)
	}
	for code, n := range st.statusCounts {
		s.StatusBreakdown[code] = n
	}
	return s
}

// p95 must be called with t.mu held.
func (t *Tracker) p95(reportType string) time.Duration {
	var durations []time.Duration
	for _, m := range t.metrics {
		if m.ReportType == reportType {
			durations = append(durations, m.Duration)
		}
	}
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(float64(len(durations)) * 0.95)
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

func rate(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// ---------------------------------------------------------------------------
// Echo HTTP handler
// ---------------------------------------------------------------------------

// StatsHandler serves generation statistics.
type StatsHandler struct {
	tracker *Tracker
}

// NewStatsHandler creates a handler backed by the given tracker.
func NewStatsHandler(tracker *Tracker) *StatsHandler {
	return &StatsHandler{tracker: tracker}
}

// RegisterRoutes registers the stats endpoints on the reports group.
func (h *StatsHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/stats", h.HandleOverview)
	g.GET("/stats/timeseries", h.HandleTimeSeries)
	g.GET("/stats/:type", h.HandleTypeStats)
}

// HandleOverview returns overall generation statistics.
func (h *StatsHandler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetOverview())
}

// HandleTypeStats returns statistics for one report type.
func (h *StatsHandler) HandleTypeStats(c echo.Context) error {
	s := h.tracker.GetTypeStats(c.Param("type"))
	if s == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no generations recorded for report type")
	}
	return c.JSON(http.StatusOK, s)
}

// HandleTimeSeries returns generation counts per interval. Query parameters
// interval and duration accept Go durations or whole minutes, and are clamped
// to the time series limits.
func (h *StatsHandler) HandleTimeSeries(c echo.Context) error {
	interval := parseDurationParam(c.QueryParam("interval"), time.Hour)
	duration := parseDurationParam(c.QueryParam("duration"), 24*time.Hour)
	return c.JSON(http.StatusOK, h.tracker.GetTimeSeries(interval, duration))
}

func parseDurationParam(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if mins, err := strconv.Atoi(s); err == nil && mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return defaultVal
}
