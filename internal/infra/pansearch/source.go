// Package pansearch adapts the third-party drive-link search endpoints.
// Every adapter normalizes its payload into domain.Candidate values.
package pansearch

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

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// MaxResultsPerSource caps the hits any single source contributes
const MaxResultsPerSource = 5

const (
	untitled  = "未知标题"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
)

// Source names, also used by SEARCH_SOURCES_DISABLED
const (
	NameKkkob   = "kkkob"
	NameNanfeng = "nanfeng"
	NameUpyunso = "upyunso"
	NameXiaoso  = "xiaoso"
	NameWaliso  = "waliso"
	NamePpqa    = "ppqa"
)

// Option configures a source
type Option func(*base)

// WithBaseURL points the source at another host (tests, mirrors)
func WithBaseURL(u string) Option {
	return func(b *base) { b.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.httpClient = c }
}

type base struct {
	name       string
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

func newBase(name, baseURL string, headers map[string]string, opts []Option) base {
	b := base{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		headers:    headers,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", b.name, err)
	}
	return b.do(req, out)
}

func (b *base) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal body: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *base) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request %s: %w", b.name, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %s returned status %d", b.name, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", b.name, req.URL.Path, err)
	}
	return nil
}

func (b *base) candidate(title, link, pwd string) domain.Candidate {
	title = strings.TrimSpace(title)
	if title == "" {
		title = untitled
	}
	return domain.Candidate{Title: title, URL: link, Password: pwd, Source: b.name}
}

// isDriveLink keeps only quark/baidu hits, the drives we can transfer from
func isDriveLink(s string) bool {
	return strings.Contains(s, "quark") || strings.Contains(s, "baidu")
}

// All builds every adapter with its production endpoint
func All() []repo.SearchSource {
	return []repo.SearchSource{
		NewKkkob(),
		NewNanfeng(),
		NewUpyunso(),
		NewXiaoso(),
		NewWaliso(),
		NewPpqa(),
	}
}

// Enabled filters sources through a name predicate, preserving order
func Enabled(sources []repo.SearchSource, enabled func(name string) bool) []repo.SearchSource {
	out := make([]repo.SearchSource, 0, len(sources))
	for _, s := range sources {
		if enabled(s.Name()) {
			out = append(out, s)
		}
	}
	return out
}
