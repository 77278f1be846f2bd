package mcp

import (
	"context"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
)

const defaultLimit = 20

// Handler handles MCP tool calls using the HTTP client
type Handler struct {
	client *Client
}

// NewHandler creates a new MCP handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// ============ Listing Handlers ============

// ListingInfo is a listing as shown to MCP clients
type ListingInfo struct {
	ListingID      string   `json:"listing_id"`
	Title          string   `json:"title"`
	Price          string   `json:"price"`
	Description    string   `json:"description"`
	OtherNotes     string   `json:"other_notes"`
	ShipReplyText  string   `json:"ship_reply_text"`
	EnabledPlugins []string `json:"enabled_plugins"`
}

func toListingInfo(l *domain.Listing) *ListingInfo {
	return &ListingInfo{
		ListingID:      l.ListingID,
		Title:          l.Title,
		Price:          l.Price,
		Description:    l.Description,
		OtherNotes:     l.OtherNotes,
		ShipReplyText:  l.ShipReplyText,
		EnabledPlugins: l.EnabledPlugins,
	}
}

// EmptyInput is for tools that take no arguments
type EmptyInput struct{}

// ListListingsOutput contains every listing
type ListListingsOutput struct {
	Listings []*ListingInfo `json:"listings"`
	Error    string         `json:"error,omitempty"`
}

// ListListings lists stored listings
func (h *Handler) ListListings(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ListListingsOutput, error) {
	listings, err := h.client.ListListings(ctx)
	if err != nil {
		return nil, ListListingsOutput{Error: err.Error()}, nil
	}

	out := ListListingsOutput{Listings: make([]*ListingInfo, 0, len(listings))}
	for i := range listings {
		out.Listings = append(out.Listings, toListingInfo(&listings[i]))
	}
	return nil, out, nil
}

// GetListingInput names a listing
type GetListingInput struct {
	ListingID string `json:"listing_id" jsonschema:"The marketplace item id"`
}

// ListingOutput wraps a single listing
type ListingOutput struct {
	Listing *ListingInfo `json:"listing,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// GetListing returns one listing
func (h *Handler) GetListing(ctx context.Context, req *sdk.CallToolRequest, input GetListingInput) (*sdk.CallToolResult, ListingOutput, error) {
	if input.ListingID == "" {
		return nil, ListingOutput{Error: "listing_id is required"}, nil
	}

	l, err := h.client.GetListing(ctx, input.ListingID)
	if err != nil {
		return nil, ListingOutput{Error: err.Error()}, nil
	}
	return nil, ListingOutput{Listing: toListingInfo(l)}, nil
}

// UpdateListingInput is a partial listing edit
type UpdateListingInput struct {
	ListingID      string   `json:"listing_id" jsonschema:"The marketplace item id"`
	Title          *string  `json:"title,omitempty" jsonschema:"New title"`
	Price          *string  `json:"price,omitempty" jsonschema:"New price"`
	Description    *string  `json:"description,omitempty" jsonschema:"New description"`
	OtherNotes     *string  `json:"other_notes,omitempty" jsonschema:"Extra notes given to the AI reply"`
	ShipReplyText  *string  `json:"ship_reply_text,omitempty" jsonschema:"Text sent to the buyer after payment"`
	EnabledPlugins []string `json:"enabled_plugins,omitempty" jsonschema:"Plugin names enabled for this listing"`
}

// UpdateListing edits a listing
func (h *Handler) UpdateListing(ctx context.Context, req *sdk.CallToolRequest, input UpdateListingInput) (*sdk.CallToolResult, ListingOutput, error) {
	if input.ListingID == "" {
		return nil, ListingOutput{Error: "listing_id is required"}, nil
	}

	upd := usecase.ListingUpdate{
		Title:         input.Title,
		Price:         input.Price,
		Description:   input.Description,
		OtherNotes:    input.OtherNotes,
		ShipReplyText: input.ShipReplyText,
	}
	if input.EnabledPlugins != nil {
		upd.EnabledPlugins = &input.EnabledPlugins
	}

	l, err := h.client.UpdateListing(ctx, input.ListingID, upd)
	if err != nil {
		return nil, ListingOutput{Error: err.Error()}, nil
	}
	return nil, ListingOutput{Listing: toListingInfo(l)}, nil
}

// ============ Search Handlers ============

// SearchInput is a keyword search
type SearchInput struct {
	Keyword string `json:"keyword" jsonschema:"The resource name to search for"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of results"`
}

// SearchOutput carries the results and the reply a buyer would get
type SearchOutput struct {
	Results []domain.SearchResult `json:"results"`
	Reply   string                `json:"reply"`
	Error   string                `json:"error,omitempty"`
}

// Search runs a resource search through the assistant
func (h *Handler) Search(ctx context.Context, req *sdk.CallToolRequest, input SearchInput) (*sdk.CallToolResult, SearchOutput, error) {
	if input.Keyword == "" {
		return nil, SearchOutput{Error: "keyword is required"}, nil
	}

	resp, err := h.client.Search(ctx, input.Keyword, input.Limit)
	if err != nil {
		return nil, SearchOutput{Error: err.Error()}, nil
	}
	return nil, SearchOutput{Results: resp.Results, Reply: resp.Reply}, nil
}

// LimitInput bounds a listing tool
type LimitInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of rows (default 20)"`
}

func (in LimitInput) limit() int {
	if in.Limit <= 0 {
		return defaultLimit
	}
	return in.Limit
}

// HistoryEntry is one search log row
type HistoryEntry struct {
	Keyword     string `json:"keyword"`
	ResultCount int    `json:"result_count"`
	SearchTime  string `json:"search_time"`
}

// SearchHistoryOutput contains recent searches
type SearchHistoryOutput struct {
	History []HistoryEntry `json:"history"`
	Error   string         `json:"error,omitempty"`
}

// SearchHistory lists recent searches
func (h *Handler) SearchHistory(ctx context.Context, req *sdk.CallToolRequest, input LimitInput) (*sdk.CallToolResult, SearchHistoryOutput, error) {
	rows, err := h.client.History(ctx, input.limit())
	if err != nil {
		return nil, SearchHistoryOutput{Error: err.Error()}, nil
	}

	out := SearchHistoryOutput{History: make([]HistoryEntry, 0, len(rows))}
	for _, r := range rows {
		out.History = append(out.History, HistoryEntry{
			Keyword:     r.Keyword,
			ResultCount: r.ResultCount,
			SearchTime:  r.SearchTime.Format(time.DateTime),
		})
	}
	return nil, out, nil
}

// ResourceEntry is one transferred resource
type ResourceEntry struct {
	FileName  string `json:"file_name"`
	ShareLink string `json:"share_link"`
	DriveType string `json:"drive_type"`
	CreatedAt string `json:"created_at"`
}

// ListResourcesOutput contains live transferred resources
type ListResourcesOutput struct {
	Resources []ResourceEntry `json:"resources"`
	Error     string          `json:"error,omitempty"`
}

// ListResources lists transferred resources
func (h *Handler) ListResources(ctx context.Context, req *sdk.CallToolRequest, input LimitInput) (*sdk.CallToolResult, ListResourcesOutput, error) {
	rows, err := h.client.Resources(ctx, input.limit())
	if err != nil {
		return nil, ListResourcesOutput{Error: err.Error()}, nil
	}

	out := ListResourcesOutput{Resources: make([]ResourceEntry, 0, len(rows))}
	for _, r := range rows {
		out.Resources = append(out.Resources, ResourceEntry{
			FileName:  r.FileName,
			ShareLink: r.ShareLink,
			DriveType: string(r.DriveType),
			CreatedAt: r.CreatedAt.Format(time.DateTime),
		})
	}
	return nil, out, nil
}

// ============ Plugin Handlers ============

// PluginEntry is a registered plugin
type PluginEntry struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// ListPluginsOutput contains the plugin chain
type ListPluginsOutput struct {
	Plugins []PluginEntry `json:"plugins"`
	Error   string        `json:"error,omitempty"`
}

// ListPlugins lists the plugin chain
func (h *Handler) ListPlugins(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ListPluginsOutput, error) {
	plugins, err := h.client.Plugins(ctx)
	if err != nil {
		return nil, ListPluginsOutput{Error: err.Error()}, nil
	}

	out := ListPluginsOutput{Plugins: make([]PluginEntry, 0, len(plugins))}
	for _, p := range plugins {
		out.Plugins = append(out.Plugins, PluginEntry{Name: p.Name, Priority: p.Priority})
	}
	return nil, out, nil
}
