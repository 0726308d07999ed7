// Package shortener is the Rebrandly client: creating short tracked links
// for contract URLs and garbage-collecting links whose pet has left the
// program.
package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// deleteBatchSize is the Rebrandly batch-delete limit per request.
const deleteBatchSize = 25

const listPageSize = 20

// Config carries the client's construction parameters.
type Config struct {
	APIKey   string
	DomainID string
	BaseURL  string
	Timeout  time.Duration
}

// DefaultConfig returns production defaults for the given credentials.
func DefaultConfig(apiKey, domainID string) Config {
	return Config{
		APIKey:   apiKey,
		DomainID: domainID,
		BaseURL:  "https://api.rebrandly.com/v1",
		Timeout:  30 * time.Second,
	}
}

// Client talks to the Rebrandly API.
type Client struct {
	apiKey     string
	domainID   string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a shortener client.
func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:   cfg.APIKey,
		domainID: cfg.DomainID,
		baseURL:  cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Link is one tracked short link.
type Link struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	ShortURL    string `json:"shortUrl"`
}

// Shorten registers longURL and returns the tracked short URL.
func (c *Client) Shorten(ctx context.Context, longURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"destination": longURL,
		"domain":      map[string]string{"id": c.domainID},
	})
	if err != nil {
		return "", fmt.Errorf("marshal link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/links", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shorten: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read shorten response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shorten: status %d: %s", resp.StatusCode, body)
	}

	var link Link
	if err := json.Unmarshal(body, &link); err != nil {
		return "", fmt.Errorf("decode shorten response: %w", err)
	}
	c.log.Info("shortened link",
		zap.String("destination", link.Destination),
		zap.String("short_url", link.ShortURL))
	return link.ShortURL, nil
}

// List fetches every registered link, paging with the last-seen link id.
func (c *Client) List(ctx context.Context) ([]Link, error) {
	var links []Link
	last := ""
	for {
		listURL := fmt.Sprintf("%s/links?limit=%d&last=%s", c.baseURL, listPageSize, url.QueryEscape(last))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("apikey", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read list response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list links: status %d: %s", resp.StatusCode, body)
		}

		var page []Link
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode list response: %w", err)
		}
		if len(page) == 0 {
			return links, nil
		}
		links = append(links, page...)
		last = page[len(page)-1].ID
	}
}

// DeleteBatch removes links by id, at most 25 per request.
func (c *Client) DeleteBatch(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		payload, err := json.Marshal(map[string][]string{"links": ids[start:end]})
		if err != nil {
			return fmt.Errorf("marshal delete request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/links", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build delete request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("delete links: status %d", resp.StatusCode)
		}
	}
	return nil
}

// Cleanup deletes contract-form links whose petId query parameter no longer
// belongs to an active pet. Links outside the contract form, and hand-made
// pass-form links, are left alone. Returns the number of links deleted.
func (c *Client) Cleanup(ctx context.Context, activePetIDs map[string]bool) (int, error) {
	links, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, link := range links {
		if !strings.Contains(link.Destination, "jotform") {
			continue
		}
		if strings.Contains(link.Destination, "pass-form") {
			c.log.Info("skipping pass-form link", zap.String("destination", link.Destination))
			continue
		}
		parsed, err := url.Parse(link.Destination)
		if err != nil {
			continue
		}
		petID := parsed.Query().Get("petId")
		if petID != "" && !activePetIDs[petID] {
			stale = append(stale, link.ID)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.DeleteBatch(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}
