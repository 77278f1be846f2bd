package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/plugin"
)

// Client is the HTTP client for the assistant admin API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// a search fans out to every source and transfers each hit
			Timeout: 2 * time.Minute,
		},
	}
}

// ============ Listings ============

// ListListings returns every stored listing
func (c *Client) ListListings(ctx context.Context) ([]domain.Listing, error) {
	var result struct {
		Listings []domain.Listing `json:"listings"`
	}
	if err := c.get(ctx, "/api/listings", &result); err != nil {
		return nil, err
	}
	return result.Listings, nil
}

// GetListing returns one listing
func (c *Client) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	var l domain.Listing
	if err := c.get(ctx, "/api/listings/"+url.PathEscape(id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateListing applies a partial edit and returns the stored listing
func (c *Client) UpdateListing(ctx context.Context, id string, upd usecase.ListingUpdate) (*domain.Listing, error) {
	var l domain.Listing
	if err := c.send(ctx, http.MethodPut, "/api/listings/"+url.PathEscape(id), upd, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// ============ Resource Search ============

// SearchResponse mirrors the admin API search reply
type SearchResponse struct {
	Keyword string                `json:"keyword"`
	Results []domain.SearchResult `json:"results"`
	Reply   string                `json:"reply"`
}

// Search runs a resource search through the running assistant
func (c *Client) Search(ctx context.Context, keyword string, limit int) (*SearchResponse, error) {
	body := map[string]interface{}{"keyword": keyword, "limit": limit}
	var resp SearchResponse
	if err := c.send(ctx, http.MethodPost, "/api/search", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns the newest search log rows
func (c *Client) History(ctx context.Context, limit int) ([]domain.SearchHistory, error) {
	var result struct {
		History []domain.SearchHistory `json:"history"`
	}
	if err := c.get(ctx, "/api/history?limit="+strconv.Itoa(limit), &result); err != nil {
		return nil, err
	}
	return result.History, nil
}

// Resources returns the newest transferred resources
func (c *Client) Resources(ctx context.Context, limit int) ([]domain.TransferredResource, error) {
	var result struct {
		Resources []domain.TransferredResource `json:"resources"`
	}
	if err := c.get(ctx, "/api/resources?limit="+strconv.Itoa(limit), &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ============ Plugins ============

// Plugins returns the registered plugins in chain order
func (c *Client) Plugins(ctx context.Context) ([]plugin.Descriptor, error) {
	var result struct {
		Plugins []plugin.Descriptor `json:"plugins"`
	}
	if err := c.get(ctx, "/api/plugins", &result); err != nil {
		return nil, err
	}
	return result.Plugins, nil
}

// ============ HTTP Helpers ============

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(jsonBody), result)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
