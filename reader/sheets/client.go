package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"habitflow/config"
	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
)

// Client fetches spreadsheet rows through the Sheets values API. It is the
// only component that talks to the network; everything downstream consumes
// already-fetched rows.
type Client struct {
	cfg     config.SheetsConfig
	http    *http.Client
	creds   CredentialProvider
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg config.SheetsConfig, creds CredentialProvider) *Client {
	log := logger.GetLogger()

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	client := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}

	log.WithComponent("sheets_client").WithFields(logger.Fields{
		"spreadsheet_id": cfg.SpreadsheetID,
		"range":          cfg.Range,
		"timeout":        cfg.Timeout,
	}).Info("sheets client initialized")

	return client
}

// valuesResponse mirrors the values.get payload. Cells arrive as strings
// under the default render option, but numbers slip through when the sheet
// is fetched with UNFORMATTED_VALUE, so cells decode as interface values.
type valuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// Fetch retrieves the configured range and maps the first row as headers
// onto the remaining rows.
func (c *Client) Fetch(ctx context.Context) ([]models.RawRow, error) {
	values, err := c.fetchValues(ctx)
	if err != nil {
		return nil, err
	}

	rows := rowsFromValues(values)
	metrics.EmitFetchMetric(c.log, "google_sheets", len(rows))
	c.log.WithComponent("sheets_client").WithFields(logger.Fields{
		"operation": "fetch",
		"rows":      len(rows),
	}).Info("fetched sheet values")

	return rows, nil
}

// fetchValues runs the request with rate limiting and doubling backoff.
// Transport errors and 5xx/429 responses are retried; other API errors
// fail immediately since repeating them cannot help.
func (c *Client) fetchValues(ctx context.Context) ([][]any, error) {
	log := c.log.WithComponent("sheets_client").WithFields(logger.Fields{"operation": "values_get"})

	attempts := c.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.cfg.Retry.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if c.cfg.Retry.MaxDelay > 0 && delay > c.cfg.Retry.MaxDelay {
				delay = c.cfg.Retry.MaxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		values, retryable, err := c.doRequest(ctx)
		if err == nil {
			return values, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("sheet fetch failed, retrying")
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context) ([][]any, bool, error) {
	reqURL := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(c.cfg.SpreadsheetID),
		url.PathEscape(c.cfg.Range))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if c.creds != nil {
		if err := c.creds.Authorize(ctx, req); err != nil {
			return nil, false, fmt.Errorf("authorize request: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(c.log.WithComponent("sheets_client"), "sheets_client", "values_get", time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("sheets api returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload valuesResponse
	if err := dec.Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decode values response: %w", err)
	}
	return payload.Values, false, nil
}

// rowsFromValues treats the first row as headers. Short rows leave their
// trailing columns absent; cells beyond the header row are dropped.
func rowsFromValues(values [][]any) []models.RawRow {
	if len(values) < 2 {
		return nil
	}

	headers := make([]string, len(values[0]))
	for i, cell := range values[0] {
		headers[i] = strings.TrimSpace(cellString(cell))
	}

	rows := make([]models.RawRow, 0, len(values)-1)
	for _, cells := range values[1:] {
		row := make(models.RawRow, len(headers))
		for i, cell := range cells {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			row[headers[i]] = cellString(cell)
		}
		rows = append(rows, row)
	}
	return rows
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}
