package pansearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// Production endpoints
const (
	KkkobURL   = "http://s.kkkob.com"
	NanfengURL = "https://www.hhlqilongzhu.cn"
	UpyunsoURL = "https://api.upyunso.com"
	XiaosoURL  = "https://www.xiaoso.net"
	WalisoURL  = "https://api.waliso.com"
	PpqaURL    = "https://api.ppqa.cn"
)

var (
	kkkobLinkRe    = regexp.MustCompile(`https://pan\.quark\.cn/[^\s]*`)
	kkkobTitleRe   = regexp.MustCompile(`\s*[\(（]?(夸克)?[\)）]?\s*`)
	nanfengBaiduRe = regexp.MustCompile(`(https?://pan\.baidu\.com/s/[\w-]+)`)
	nanfengQuarkRe = regexp.MustCompile(`(https?://pan\.quark\.cn/s/[\w-]+)`)
)

// Kkkob fetches a token, then asks the "juzi" line and falls back to "xiaoyu".
// Only the first quark hit of a line is kept.
type Kkkob struct{ base }

func NewKkkob(opts ...Option) *Kkkob {
	return &Kkkob{newBase(NameKkkob, KkkobURL, map[string]string{
		"Origin":  "https://pan.quark.cn",
		"Referer": "https://pan.quark.cn/",
	}, opts)}
}

type kkkobAnswers struct {
	List []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"list"`
}

func (s *Kkkob) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var tok struct {
		Token string `json:"token"`
	}
	if err := s.getJSON(ctx, "/v/api/getToken", nil, &tok); err != nil {
		return nil, err
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("%s: empty token", s.name)
	}

	body := map[string]string{"name": keyword, "token": tok.Token}
	for _, line := range []string{"/v/api/getJuzi", "/v/api/getXiaoyu"} {
		var answers kkkobAnswers
		if err := s.postJSON(ctx, line, body, &answers); err != nil {
			log.Warn().Str("component", "pansearch").Str("source", s.name).Str("line", line).Err(err).Msg("Line failed")
			continue
		}
		if c, ok := s.normalize(answers); ok {
			return []domain.Candidate{c}, nil
		}
	}
	return nil, nil
}

func (s *Kkkob) normalize(answers kkkobAnswers) (domain.Candidate, bool) {
	for _, item := range answers.List {
		link := kkkobLinkRe.FindString(item.Answer)
		if link == "" {
			continue
		}
		return s.candidate(kkkobTitleRe.ReplaceAllString(item.Question, ""), link, ""), true
	}
	return domain.Candidate{}, false
}

// Nanfeng returns free-text data_url fields that need link extraction
type Nanfeng struct{ base }

func NewNanfeng(opts ...Option) *Nanfeng {
	return &Nanfeng{newBase(NameNanfeng, NanfengURL, nil, opts)}
}

func (s *Nanfeng) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := s.getJSON(ctx, "/api/ziyuan_nanfeng.php", url.Values{"keysearch": {keyword}}, &resp); err != nil {
		return nil, err
	}
	return s.normalize(resp.Data), nil
}

func (s *Nanfeng) normalize(raw json.RawMessage) []domain.Candidate {
	// data is a message string when nothing matched
	var items []struct {
		Title   string `json:"title"`
		DataURL string `json:"data_url"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	var out []domain.Candidate
	for _, item := range items {
		var link string
		switch {
		case strings.Contains(item.DataURL, "pan.baidu.com"):
			if m := nanfengBaiduRe.FindStringSubmatch(item.DataURL); m != nil {
				link = m[1]
			}
		case strings.Contains(item.DataURL, "pan.quark.cn"):
			if m := nanfengQuarkRe.FindStringSubmatch(item.DataURL); m != nil {
				link = m[1]
			}
		}
		if link == "" {
			continue
		}
		out = append(out, s.candidate(item.Title, link, ""))
		if len(out) >= MaxResultsPerSource {
			break
		}
	}
	return out
}

// resultItems is the payload shape shared by upyunso and xiaoso
type resultItems struct {
	Result struct {
		Items []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"items"`
	} `json:"result"`
}

func (b *base) normalizeResultItems(resp resultItems) []domain.Candidate {
	var out []domain.Candidate
	for _, item := range resp.Result.Items {
		if item.URL == "" || !isDriveLink(item.URL) {
			continue
		}
		out = append(out, b.candidate(item.Title, item.URL, ""))
		if len(out) >= MaxResultsPerSource {
			break
		}
	}
	return out
}

type Upyunso struct{ base }

func NewUpyunso(opts ...Option) *Upyunso {
	return &Upyunso{newBase(NameUpyunso, UpyunsoURL, nil, opts)}
}

func (s *Upyunso) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var resp resultItems
	q := url.Values{"keyword": {keyword}, "page": {"1"}, "s_type": {"all"}}
	if err := s.getJSON(ctx, "/search", q, &resp); err != nil {
		return nil, err
	}
	return s.normalizeResultItems(resp), nil
}

type Xiaoso struct{ base }

func NewXiaoso(opts ...Option) *Xiaoso {
	return &Xiaoso{newBase(NameXiaoso, XiaosoURL, nil, opts)}
}

func (s *Xiaoso) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var resp resultItems
	if err := s.getJSON(ctx, "/api/search", url.Values{"keyword": {keyword}}, &resp); err != nil {
		return nil, err
	}
	return s.normalizeResultItems(resp), nil
}

// Waliso answers with an envelope code of 200 on success
type Waliso struct{ base }

func NewWaliso(opts ...Option) *Waliso {
	return &Waliso{newBase(NameWaliso, WalisoURL, map[string]string{
		"Origin":  "https://waliso.com",
		"Referer": "https://waliso.com/",
	}, opts)}
}

type walisoRequest struct {
	Keyword  string `json:"keyword"`
	Page     int    `json:"page"`
	Size     int    `json:"size"`
	Site     string `json:"site"`
	Format   string `json:"format"`
	Time     string `json:"time"`
	Accurate bool   `json:"accurate"`
}

type walisoResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		List []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"list"`
	} `json:"data"`
}

func (s *Waliso) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var resp walisoResponse
	req := walisoRequest{Keyword: keyword, Page: 1, Size: 10}
	if err := s.postJSON(ctx, "/api/search/resources", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("%s: code %d: %s", s.name, resp.Code, resp.Message)
	}
	return s.normalize(resp), nil
}

func (s *Waliso) normalize(resp walisoResponse) []domain.Candidate {
	var out []domain.Candidate
	for _, item := range resp.Data.List {
		if item.URL == "" || !isDriveLink(item.URL) {
			continue
		}
		out = append(out, s.candidate(item.Name, item.URL, ""))
		if len(out) >= MaxResultsPerSource {
			break
		}
	}
	return out
}

// Ppqa only searches quark and returns the extraction code separately
type Ppqa struct{ base }

const (
	ppqaKey  = "I66IONQVOWDF8YG68AF8"
	ppqaType = "夸克网盘"
	ppqaSite = "kk短剧2"
)

func NewPpqa(opts ...Option) *Ppqa {
	return &Ppqa{newBase(NamePpqa, PpqaURL, map[string]string{
		"Referer": "https://ppqa.cn/",
	}, opts)}
}

type ppqaResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Pwd  string `json:"pwd"`
	} `json:"data"`
}

func (s *Ppqa) Search(ctx context.Context, keyword string) ([]domain.Candidate, error) {
	var resp ppqaResponse
	q := url.Values{
		"keyword":  {keyword},
		"ckey":     {ppqaKey},
		"type":     {ppqaType},
		"fromSite": {ppqaSite},
	}
	if err := s.getJSON(ctx, "/api/pan/search", q, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s: %s", s.name, resp.Message)
	}
	return s.normalize(resp), nil
}

func (s *Ppqa) normalize(resp ppqaResponse) []domain.Candidate {
	var out []domain.Candidate
	for _, item := range resp.Data {
		if item.URL == "" {
			continue
		}
		// some rows leak the closing of an html attribute
		link := strings.ReplaceAll(item.URL, `">`, "")
		out = append(out, s.candidate(item.Name, link, item.Pwd))
		if len(out) >= MaxResultsPerSource {
			break
		}
	}
	return out
}
