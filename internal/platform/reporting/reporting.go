package reporting

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/reports/internal/analytics"
	"github.com/ehr/reports/internal/analytics/catalog"
	stats "github.com/ehr/reports/internal/platform/analytics"
	"github.com/ehr/reports/internal/platform/auth"
	"github.com/ehr/reports/pkg/pagination"
)

// DefaultQueryTimeout bounds a single report generation.
const DefaultQueryTimeout = 30 * time.Second

// TypeInfo describes a report type the caller may request.
type TypeInfo struct {
	Type  string   `json:"type"`
	Title string   `json:"title"`
	Roles []string `json:"roles,omitempty"`
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	engine  *analytics.Engine
	tracker *stats.Tracker
	timeout time.Duration
}

// NewHandler creates a new reporting handler. A nil tracker disables
// generation statistics.
func NewHandler(engine *analytics.Engine, tracker *stats.Tracker, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Handler{engine: engine, tracker: tracker, timeout: timeout}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports")
	reportGroup.GET("/types", h.ListTypes)
	if h.tracker != nil {
		stats.NewStatsHandler(h.tracker).RegisterRoutes(reportGroup)
	}
	reportGroup.GET("/:type", h.Generate)
}

// ListTypes returns the report types the caller may generate.
func (h *Handler) ListTypes(c echo.Context) error {
	id := auth.IdentityFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, typeInfos(h.engine.Types(id)))
}

// Generate builds one report from the query string filters.
func (h *Handler) Generate(c echo.Context) error {
	reportType := c.Param("type")
	id := auth.IdentityFromContext(c.Request().Context())

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	start := time.Now()
	doc, err := h.engine.Generate(ctx, analytics.Request{
		Type:         reportType,
		Params:       Params(c),
		Identity:     id,
		ListingLimit: pagination.FromContext(c).Limit,
	})

	status := http.StatusOK
	if err != nil {
		status = statusFor(ctx, err)
	}
	if h.tracker != nil {
		m := &stats.GenerationMetric{
			Timestamp:  start,
			ReportType: reportType,
			StatusCode: status,
			Duration:   time.Since(start),
			UserID:     id.UserID,
		}
		if doc != nil {
			m.Sections = len(doc.Sections)
		}
		h.tracker.Record(m)
	}

	if err != nil {
		if status == http.StatusInternalServerError {
			zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("report_type", reportType).Msg("report request failed")
		}
		return echo.NewHTTPError(status, message(status))
	}
	return c.JSON(http.StatusOK, doc)
}

// Params flattens the query string into the engine's parameter map.
// Repeated keys are joined with commas, the multi-value separator.
// Pagination parameters are left out.
func Params(c echo.Context) map[string]string {
	q := c.QueryParams()
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if slices.Contains(pagination.Reserved, k) {
			continue
		}
		params[k] = strings.Join(vs, ",")
	}
	return params
}

func statusFor(ctx context.Context, err error) int {
	switch {
	case errors.Is(err, analytics.ErrUnknownReport):
		return http.StatusNotFound
	case errors.Is(err, analytics.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func message(status int) string {
	switch status {
	case http.StatusNotFound:
		return "unknown report type"
	case http.StatusForbidden:
		return "report not permitted"
	case http.StatusGatewayTimeout:
		return "report generation timed out"
	}
	return "report generation failed"
}

func typeInfos(reports []catalog.Report) []TypeInfo {
	out := make([]TypeInfo, 0, len(reports))
	for _, r := range reports {
		out = append(out, TypeInfo{Type: r.Type, Title: r.Title, Roles: r.Roles})
	}
	return out
}
