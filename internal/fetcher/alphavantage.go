package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	alphaVantageQueryPath = "/query"
	defaultBaseURL        = "https://www.alphavantage.co"
	defaultInterval       = "monthly"
	maxErrorBody          = 512
)

// AlphaVantageOptions parameterise the Alpha Vantage economic-indicator fetcher.
type AlphaVantageOptions struct {
	BaseURL   string
	APIKey    string
	Function  string
	Interval  string
	Timeout   time.Duration
	UserAgent string
}

// AlphaVantage fetches economic indicator series from Alpha Vantage.
type AlphaVantage struct {
	opts    AlphaVantageOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAlphaVantage constructs an Alpha Vantage fetcher.
func NewAlphaVantage(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantage {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Interval == "" {
		opts.Interval = defaultInterval
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &AlphaVantage{
		opts:    opts,
		logger:  logger.With().Str("component", "alphavantage_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// envelope is the subset of the response the fetcher inspects. Alpha Vantage
// answers errors and throttling with HTTP 200 and one of the message keys.
type envelope struct {
	Name         string          `json:"name"`
	Interval     string          `json:"interval"`
	Unit         string          `json:"unit"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"Error Message"`
	Information  string          `json:"Information"`
	Note         string          `json:"Note"`
}

// FetchSeries performs one GET and returns the raw `data` array.
func (a *AlphaVantage) FetchSeries(ctx context.Context) (json.RawMessage, error) {
	if a.opts.APIKey == "" {
		return nil, payloadError("config", "api key not configured", nil, false)
	}
	if a.opts.Function == "" {
		return nil, payloadError("config", "series function not configured", nil, false)
	}

	query := url.Values{}
	query.Set("function", a.opts.Function)
	query.Set("interval", a.opts.Interval)
	query.Set("apikey", a.opts.APIKey)

	endpoint := a.baseURL + alphaVantageQueryPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, payloadError("request", "build request", err, false)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, truncate(strings.TrimSpace(string(payloadBytes)), maxErrorBody))
	}

	var env envelope
	if err := json.Unmarshal(payloadBytes, &env); err != nil {
		return nil, payloadError("decode", "response is not a JSON object", err, false)
	}

	switch {
	case env.ErrorMessage != "":
		return nil, payloadError("provider", env.ErrorMessage, nil, false)
	case env.Note != "":
		return nil, payloadError("throttled", env.Note, nil, true)
	case env.Information != "" && len(env.Data) == 0:
		return nil, payloadError("throttled", env.Information, nil, true)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, payloadError("envelope", "no data found in API response", errors.New("missing data key"), false)
	}

	a.logger.Debug().
		Str("function", a.opts.Function).
		Str("series", env.Name).
		Int("bytes", len(payloadBytes)).
		Dur("took", time.Since(start)).
		Msg("series fetched")

	return env.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ SeriesFetcher = (*AlphaVantage)(nil)
