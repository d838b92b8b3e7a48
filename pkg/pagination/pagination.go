package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// MaxLimit caps the listing size a caller may request.
const MaxLimit = 500

// Params holds the row limit requested for record listings.
type Params struct {
	// Limit is zero when the caller did not ask for a specific size.
	Limit int
}

// FromContext reads the listing size from the _count or limit query
// parameter. Values above MaxLimit are capped; invalid values are ignored.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("_count"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("limit"))
	}
	if limit < 0 {
		limit = 0
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Limit: limit}
}

// Reserved lists query parameters consumed by pagination rather than filters.
var Reserved = []string{"_count", "limit"}
