package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// batchSize is the Airtable PATCH limit per request. This is a hard backend
// limit, not a tunable.
const batchSize = 10

var (
	// ErrTransport marks a non-success status from the backend. A fetch or
	// write wrapped in it returns no partial results.
	ErrTransport = errors.New("airtable: transport failure")

	// ErrVerification marks a write whose echoed response contradicts what
	// was submitted.
	ErrVerification = errors.New("airtable: write verification failed")
)

// Expectation describes the echo check applied to every record of a batch
// write. Zero value means count-only verification.
type Expectation struct {
	// Field is the echoed field to inspect. Empty disables the value check.
	Field string
	// Value is the exact string the echoed field must equal.
	Value string
	// NonEmpty relaxes the check to "echoed field must be non-empty",
	// used for derived fields whose value the backend rewrites (URLs).
	NonEmpty bool
}

// Config carries the client's construction parameters. There is no ambient
// state; tests substitute a fake backend via BaseURL.
type Config struct {
	APIKey  string
	BaseID  string
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns production defaults for the given credentials.
func DefaultConfig(apiKey, baseID string) Config {
	return Config{
		APIKey:  apiKey,
		BaseID:  baseID,
		BaseURL: "https://api.airtable.com/v0",
		Timeout: 30 * time.Second,
	}
}

// Client talks to one Airtable base.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a record store client for cfg.BaseID.
func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL + "/" + cfg.BaseID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// recordsEnvelope is the wire shape shared by list responses, PATCH bodies
// and PATCH echoes.
type recordsEnvelope struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// FetchAll reads every record of a table, following the offset continuation
// token until the backend stops returning one. Any failing page aborts the
// whole fetch; callers must not act on partial reads.
func (c *Client) FetchAll(ctx context.Context, table string) ([]Record, error) {
	tableURL := c.baseURL + "/" + url.PathEscape(table)

	var records []Record
	offset := ""
	for {
		pageURL := tableURL
		if offset != "" {
			pageURL += "?offset=" + url.QueryEscape(offset)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", table, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrTransport, table, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s response: %v", ErrTransport, table, err)
		}
		if resp.StatusCode != http.StatusOK {
			c.log.Error("record fetch failed",
				zap.String("table", table),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", body))
			return nil, fmt.Errorf("%w: fetch %s: status %d", ErrTransport, table, resp.StatusCode)
		}

		var page recordsEnvelope
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode %s page: %w", table, err)
		}
		records = append(records, page.Records...)

		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// BatchWrite patches updates onto a table in batches of at most ten records,
// verifying each batch before moving to the next: the transport must succeed,
// the echo must contain exactly as many records as were submitted, and when
// expect names a field, every echoed record must satisfy it. The first failing
// check aborts the whole call; batches already written stay written (the
// operation is verified per batch, not transactional across batches). Returns
// the number of records written on success.
func (c *Client) BatchWrite(ctx context.Context, table string, updates []Update, expect Expectation) (int, error) {
	tableURL := c.baseURL + "/" + url.PathEscape(table)

	written := 0
	for start := 0; start < len(updates); start += batchSize {
		end := start + batchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		payload, err := json.Marshal(struct {
			Records []Update `json:"records"`
		}{Records: batch})
		if err != nil {
			return written, fmt.Errorf("marshal %s batch: %w", table, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, tableURL, bytes.NewReader(payload))
		if err != nil {
			return written, fmt.Errorf("build patch for %s: %w", table, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return written, fmt.Errorf("%w: patch %s: %v", ErrTransport, table, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return written, fmt.Errorf("%w: read %s patch response: %v", ErrTransport, table, err)
		}
		if resp.StatusCode != http.StatusOK {
			c.log.Error("patch failed",
				zap.String("table", table),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", body))
			return written, fmt.Errorf("%w: patch %s: status %d", ErrTransport, table, resp.StatusCode)
		}

		var echo recordsEnvelope
		if err := json.Unmarshal(body, &echo); err != nil {
			return written, fmt.Errorf("decode %s patch echo: %w", table, err)
		}
		if len(echo.Records) != len(batch) {
			c.log.Error("patch echoed wrong record count",
				zap.String("table", table),
				zap.Int("submitted", len(batch)),
				zap.Int("echoed", len(echo.Records)))
			return written, fmt.Errorf("%w: %s: submitted %d records, echo had %d",
				ErrVerification, table, len(batch), len(echo.Records))
		}
		if expect.Field != "" {
			for _, rec := range echo.Records {
				got := rec.Str(expect.Field)
				if expect.NonEmpty {
					if got == "" {
						c.log.Error("patch echoed empty field",
							zap.String("table", table),
							zap.String("field", expect.Field),
							zap.String("record", rec.ID))
						return written, fmt.Errorf("%w: %s: record %s echoed empty %q",
							ErrVerification, table, rec.ID, expect.Field)
					}
					continue
				}
				if got != expect.Value {
					c.log.Error("patch echoed wrong value",
						zap.String("table", table),
						zap.String("field", expect.Field),
						zap.String("record", rec.ID),
						zap.String("want", expect.Value),
						zap.String("got", got))
					return written, fmt.Errorf("%w: %s: record %s echoed %q = %q, want %q",
						ErrVerification, table, rec.ID, expect.Field, got, expect.Value)
				}
			}
		}

		written += len(batch)
	}
	return written, nil
}
