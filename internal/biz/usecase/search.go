package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/metrics"
)

// Search defaults
const (
	DefaultSearchLimit   = 5
	DefaultSourceTimeout = 10 * time.Second
	DefaultTTLMinutes    = 30
)

// Search command prefixes, longest first
var searchPrefixes = []string{"搜索", "搜"}

// ErrEmptyKeyword is returned when a search has nothing to search for
var ErrEmptyKeyword = errors.New("empty search keyword")

// SearchConfig contains search aggregation settings
type SearchConfig struct {
	SourceTimeout   time.Duration // per-source deadline
	MaxThreads      int           // concurrent sources, 0 = unbounded
	TTLMinutes      int           // shown in the reply footer
	BaiduEnabled    bool
	TransfersPerSec float64 // <= 0 disables pacing
}

// SearchUsecase fans a keyword out to search sources and transfers the hits
// into our own drives
type SearchUsecase struct {
	sources []repo.SearchSource
	drives  map[domain.DriveType]repo.Drive
	history repo.SearchHistoryRepo
	limiter *rate.Limiter
	cfg     SearchConfig
}

// NewSearchUsecase creates a new search usecase.
// Sources are queried in parallel but their results keep this order.
func NewSearchUsecase(sources []repo.SearchSource, drives []repo.Drive, history repo.SearchHistoryRepo, cfg SearchConfig) *SearchUsecase {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultTTLMinutes
	}

	limit := rate.Inf
	if cfg.TransfersPerSec > 0 {
		limit = rate.Limit(cfg.TransfersPerSec)
	}

	driveMap := make(map[domain.DriveType]repo.Drive, len(drives))
	for _, d := range drives {
		if d != nil {
			driveMap[d.Type()] = d
		}
	}

	return &SearchUsecase{
		sources: sources,
		drives:  driveMap,
		history: history,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
	}
}

// SearchAndStore searches every source, transfers up to limit hits and
// records one history row. Partial results are returned with ctx.Err()
// when the caller cancels.
func (uc *SearchUsecase) SearchAndStore(ctx context.Context, keyword string, limit int) ([]domain.SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	candidates := uc.collect(ctx, keyword)
	log.Info().Str("component", "search").Str("keyword", keyword).Int("candidates", len(candidates)).Msg("search sources finished")

	out := make([]domain.SearchResult, 0, limit)
	for _, c := range candidates {
		if len(out) >= limit || ctx.Err() != nil {
			break
		}
		if err := uc.limiter.Wait(ctx); err != nil {
			break
		}

		drive := uc.drives[c.drive]
		res, err := drive.Transfer(ctx, c.url)
		if err != nil {
			log.Warn().Err(err).Str("component", "search").Str("source", c.Source).Str("url", c.url).Msg("transfer failed, dropping candidate")
			metrics.Transfers.WithLabelValues(string(c.drive), "failed").Inc()
			continue
		}

		outcome := "reused"
		if res.IsNew {
			outcome = "new"
		}
		metrics.Transfers.WithLabelValues(string(c.drive), outcome).Inc()

		title := res.FileName
		if title == "" {
			title = c.Title
		}
		out = append(out, domain.SearchResult{Title: title, URL: res.ShareLink, IsTemporary: true})
	}

	if uc.history != nil {
		if err := uc.history.Record(context.WithoutCancel(ctx), keyword, len(out)); err != nil {
			log.Error().Err(err).Str("component", "search").Msg("failed to record search history")
		}
	}

	return out, ctx.Err()
}

type routedCandidate struct {
	domain.Candidate
	url   string
	drive domain.DriveType
}

// collect runs the fan-out and keeps transferable candidates, deduped by URL
func (uc *SearchUsecase) collect(ctx context.Context, keyword string) []routedCandidate {
	perSource := uc.fanOut(ctx, keyword)

	seen := make(map[string]bool)
	var out []routedCandidate
	for _, cands := range perSource {
		for _, c := range cands {
			url := withPassword(c.URL, c.Password)
			drive := domain.ClassifyDriveLink(url)
			if !uc.routable(drive) || seen[url] {
				continue
			}
			seen[url] = true
			out = append(out, routedCandidate{Candidate: c, url: url, drive: drive})
		}
	}
	return out
}

func (uc *SearchUsecase) routable(drive domain.DriveType) bool {
	switch drive {
	case domain.DriveQuark:
	case domain.DriveBaidu:
		if !uc.cfg.BaiduEnabled {
			return false
		}
	default:
		return false
	}
	_, ok := uc.drives[drive]
	return ok
}

// fanOut queries all sources concurrently, bounded by MaxThreads.
// Slot i holds the hits of source i; a failed source leaves it empty.
func (uc *SearchUsecase) fanOut(ctx context.Context, keyword string) [][]domain.Candidate {
	results := make([][]domain.Candidate, len(uc.sources))

	var sem chan struct{}
	if uc.cfg.MaxThreads > 0 {
		sem = make(chan struct{}, uc.cfg.MaxThreads)
	}

	var wg sync.WaitGroup
	for i, src := range uc.sources {
		wg.Add(1)
		go func(i int, src repo.SearchSource) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}
			}
			results[i] = uc.querySource(ctx, src, keyword)
		}(i, src)
	}
	wg.Wait()

	return results
}

func (uc *SearchUsecase) querySource(ctx context.Context, src repo.SearchSource, keyword string) (cands []domain.Candidate) {
	name := src.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "search").Str("source", name).Interface("panic", r).Msg("search source panicked")
			metrics.SearchSourceResults.WithLabelValues(name, "error").Inc()
			cands = nil
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, uc.cfg.SourceTimeout)
	defer cancel()

	cands, err := src.Search(sctx, keyword)
	metrics.SearchSourceDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded):
		log.Warn().Err(err).Str("component", "search").Str("source", name).Msg("search source timed out")
		metrics.SearchSourceResults.WithLabelValues(name, "timeout").Inc()
		return nil
	case err != nil:
		log.Warn().Err(err).Str("component", "search").Str("source", name).Msg("search source failed")
		metrics.SearchSourceResults.WithLabelValues(name, "error").Inc()
		return nil
	case len(cands) == 0:
		metrics.SearchSourceResults.WithLabelValues(name, "empty").Inc()
	default:
		metrics.SearchSourceResults.WithLabelValues(name, "ok").Inc()
	}

	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = name
		}
	}
	return cands
}

// withPassword appends ?pwd= when the source returned the code separately
func withPassword(url, pwd string) string {
	if pwd == "" || strings.Contains(url, "pwd=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&pwd=" + pwd
	}
	return url + "?pwd=" + pwd
}

// FormatReply renders results with the configured TTL
func (uc *SearchUsecase) FormatReply(results []domain.SearchResult, keyword string) string {
	return FormatResults(results, keyword, uc.cfg.TTLMinutes)
}

// History returns the latest search log rows
func (uc *SearchUsecase) History(ctx context.Context, limit int) ([]*domain.SearchHistory, error) {
	if uc.history == nil {
		return nil, nil
	}
	return uc.history.Recent(ctx, limit)
}

// SourceNames lists the configured search sources in query order
func (uc *SearchUsecase) SourceNames() []string {
	names := make([]string, 0, len(uc.sources))
	for _, s := range uc.sources {
		names = append(names, s.Name())
	}
	return names
}

const separator = "————————————"

// FormatResults renders the buyer-facing search reply
func FormatResults(results []domain.SearchResult, keyword string, ttlMinutes int) string {
	var b strings.Builder
	b.WriteString("搜索内容：" + keyword)

	if len(results) == 0 {
		b.WriteString("\n⚠未找到，可换个关键词尝试哦\n" + separator + "\n⚠搜索指令：搜:XXX 或 搜索:XXX")
		return b.String()
	}

	b.WriteString("\n" + separator)
	temporary := false
	for _, r := range results {
		fmt.Fprintf(&b, "\n🌐️%s\n%s\n%s", r.Title, r.URL, separator)
		if r.IsTemporary {
			temporary = true
		}
	}
	if temporary {
		fmt.Fprintf(&b, "\n⚠资源来源网络，%d分钟后删除\n⚠避免失效，请及时保存~💾", ttlMinutes)
	}
	return b.String()
}

// ParseSearchCommand extracts the keyword from "搜索XXX", "搜:XXX" and similar.
// An empty keyword is not a search.
func ParseSearchCommand(msg string) (string, bool) {
	msg = strings.TrimSpace(msg)
	for _, prefix := range searchPrefixes {
		if !strings.HasPrefix(msg, prefix) {
			continue
		}
		kw := strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		kw = strings.TrimPrefix(kw, ":")
		kw = strings.TrimPrefix(kw, "：")
		kw = strings.TrimSpace(kw)
		return kw, kw != ""
	}
	return "", false
}
