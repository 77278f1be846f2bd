// Package api serves the local admin HTTP surface used by the MCP server
// and operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/plugin"
)

// DefaultAddr binds the admin API to loopback
const DefaultAddr = "127.0.0.1:8765"

const defaultPageSize = 20

// ListingService is the listing admin surface
type ListingService interface {
	List(ctx context.Context) ([]*domain.Listing, error)
	Get(ctx context.Context, id string) (*domain.Listing, error)
	Update(ctx context.Context, id string, upd usecase.ListingUpdate) (*domain.Listing, error)
}

// SearchService runs resource searches and reads the search log
type SearchService interface {
	SearchAndStore(ctx context.Context, keyword string, limit int) ([]domain.SearchResult, error)
	FormatReply(results []domain.SearchResult, keyword string) string
	History(ctx context.Context, limit int) ([]*domain.SearchHistory, error)
}

// ResourceLister lists transferred resources, newest first
type ResourceLister interface {
	List(ctx context.Context, limit int) ([]*domain.TransferredResource, error)
}

// PluginLister lists registered plugins
type PluginLister interface {
	Descriptors() []plugin.Descriptor
}

// Server provides the admin HTTP API
type Server struct {
	listings  ListingService
	search    SearchService
	resources ResourceLister
	plugins   PluginLister

	server *http.Server
	addr   string
}

// NewServer creates a new API server
func NewServer(listings ListingService, search SearchService, resources ResourceLister, plugins PluginLister, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		listings:  listings,
		search:    search,
		resources: resources,
		plugins:   plugins,
		addr:      addr,
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Listings
	mux.HandleFunc("/api/listings", s.handleListings)
	mux.HandleFunc("/api/listings/", s.handleListingItem)

	// Resource search
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/resources", s.handleResources)

	mux.HandleFunc("/api/plugins", s.handlePlugins)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start serves until Stop; returns nil after a clean shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("component", "api").Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.addr
}

// ============ Listing Handlers ============

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	listings, err := s.listings.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if listings == nil {
		listings = []*domain.Listing{}
	}
	s.writeJSON(w, map[string]interface{}{"listings": listings})
}

func (s *Server) handleListingItem(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/listings/"), "/")
	if id == "" {
		http.Error(w, "listing id is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		listing, err := s.listings.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, listing)

	case http.MethodPut:
		var upd usecase.ListingUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		listing, err := s.listings.Update(r.Context(), id, upd)
		if err != nil {
			s.writeError(w, err)
			return
		}
		log.Info().Str("component", "api").Str("listing", id).Msg("Listing updated")
		s.writeJSON(w, listing)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ============ Search Handlers ============

// SearchRequest is the body of POST /api/search
type SearchRequest struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

// SearchResponse carries the results and the exact buyer-facing text
type SearchResponse struct {
	Keyword string                `json:"keyword"`
	Results []domain.SearchResult `json:"results"`
	Reply   string                `json:"reply"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Keyword = strings.TrimSpace(req.Keyword)

	results, err := s.search.SearchAndStore(r.Context(), req.Keyword, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	s.writeJSON(w, SearchResponse{
		Keyword: req.Keyword,
		Results: results,
		Reply:   s.search.FormatReply(results, req.Keyword),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	history, err := s.search.History(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []*domain.SearchHistory{}
	}
	s.writeJSON(w, map[string]interface{}{"history": history})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resources, err := s.resources.List(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if resources == nil {
		resources = []*domain.TransferredResource{}
	}
	s.writeJSON(w, map[string]interface{}{"resources": resources})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]interface{}{"plugins": s.plugins.Descriptors()})
}

// ============ Helpers ============

func queryLimit(r *http.Request) int {
	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrListingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrEmptyKeyword):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
