package fetcher

import (
	"context"
	"encoding/json"
)

// SeriesFetcher retrieves the raw observation list for one time series.
// The returned payload is the provider's list of date/value pairs, still
// uninterpreted.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context) (json.RawMessage, error)
}
