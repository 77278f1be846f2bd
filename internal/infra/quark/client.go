// Package quark transfers shared Quark drive items into our own drive and
// re-shares them.
package quark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// Default API hosts
const (
	DefaultDrivePCURL = "https://drive-pc.quark.cn"
	DefaultDriveURL   = "https://drive.quark.cn"
	DefaultPanURL     = "https://pan.quark.cn"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Share failure kinds, matched with errors.Is
var (
	ErrInvalidShare = errors.New("invalid share")
	ErrBadPasscode  = errors.New("bad passcode")
)

// ShareError is returned when a share link cannot be opened
type ShareError struct {
	Kind    error
	ShareID string
	Message string
}

func (e *ShareError) Error() string {
	return fmt.Sprintf("quark share %s: %v: %s", e.ShareID, e.Kind, e.Message)
}

func (e *ShareError) Unwrap() error { return e.Kind }

// Config contains the Quark account settings
type Config struct {
	Cookie         string
	SaveDirFID     string // "0" or empty = root
	InsertAd       bool
	AdFileIDs      []string
	FilterKeywords []string

	PollInterval    time.Duration
	MaxPollAttempts int
}

// Client is the Quark drive API client; it implements repo.Drive
type Client struct {
	drivePCURL string
	driveURL   string
	panURL     string
	httpClient *http.Client
	cfg        Config
	resources  repo.ResourceRepo
}

// Option configures a Client
type Option func(*Client)

// WithBaseURLs overrides the API hosts
func WithBaseURLs(drivePC, drive, pan string) Option {
	return func(c *Client) {
		c.drivePCURL, c.driveURL, c.panURL = drivePC, drive, pan
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a new Quark client.
// resources is consulted for dedup and receives every new transfer.
func NewClient(cfg Config, resources repo.ResourceRepo, opts ...Option) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	c := &Client{
		drivePCURL: DefaultDrivePCURL,
		driveURL:   DefaultDriveURL,
		panURL:     DefaultPanURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cfg:        cfg,
		resources:  resources,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type implements repo.Drive
func (c *Client) Type() domain.DriveType {
	return domain.DriveQuark
}

// ShareRef is a parsed share link
type ShareRef struct {
	ShareID  string
	Passcode string
	PdirFID  string
}

var shareURLRe = regexp.MustCompile(`^(?:https?://)?pan\.quark\.cn/s/(\w+)(?:\?pwd=(\w+))?(?:#/list/share.*/(\w+))?`)

// ParseShareURL extracts the share id, passcode and sub-folder from a link
func ParseShareURL(raw string) (ShareRef, error) {
	m := shareURLRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ShareRef{}, &ShareError{Kind: ErrInvalidShare, Message: "unrecognized share url " + raw}
	}
	ref := ShareRef{ShareID: m[1], Passcode: m[2], PdirFID: m[3]}
	if ref.PdirFID == "" {
		ref.PdirFID = "0"
	}
	return ref, nil
}

// apiResponse is the common Quark envelope
type apiResponse struct {
	Status  int             `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r *apiResponse) ok() bool {
	return r.Code == 0 || r.Status == 200
}

func commonParams() url.Values {
	return url.Values{"pr": {"ucpro"}, "fr": {"pc"}}
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (*apiResponse, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json, text/plain, */*")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("origin", DefaultPanURL)
	req.Header.Set("referer", DefaultPanURL+"/")
	req.Header.Set("cookie", c.cfg.Cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w (http %d)", endpoint, err, resp.StatusCode)
	}
	return &out, nil
}

// GetStoken opens a share and returns its access token
func (c *Client) GetStoken(ctx context.Context, ref ShareRef) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.drivePCURL+"/1/clouddrive/share/sharepage/token", commonParams(),
		map[string]string{"pwd_id": ref.ShareID, "passcode": ref.Passcode})
	if err != nil {
		return "", fmt.Errorf("get stoken: %w", err)
	}

	var data struct {
		Stoken string `json:"stoken"`
	}
	if resp.ok() && len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	if !resp.ok() || data.Stoken == "" {
		return "", &ShareError{Kind: classifyShareFailure(resp.Message), ShareID: ref.ShareID, Message: resp.Message}
	}
	return data.Stoken, nil
}

// classifyShareFailure tells a wrong passcode apart from a dead link
func classifyShareFailure(message string) error {
	if strings.Contains(message, "提取码") || strings.Contains(message, "密码") || strings.Contains(strings.ToLower(message), "passcode") {
		return ErrBadPasscode
	}
	return ErrInvalidShare
}

// ShareItem is the top-level entry of a share
type ShareItem struct {
	FileName      string `json:"file_name"`
	FileType      int    `json:"file_type"`
	FID           string `json:"fid"`
	PdirFID       string `json:"pdir_fid"`
	ShareFIDToken string `json:"share_fid_token"`
}

// Detail returns the first item of a share folder
func (c *Client) Detail(ctx context.Context, ref ShareRef, stoken string) (*ShareItem, error) {
	params := commonParams()
	params.Set("pwd_id", ref.ShareID)
	params.Set("stoken", stoken)
	params.Set("pdir_fid", ref.PdirFID)
	params.Set("force", "0")
	params.Set("_page", "1")
	params.Set("_size", "50")
	params.Set("_fetch_banner", "0")
	params.Set("_fetch_share", "0")
	params.Set("_fetch_total", "1")
	params.Set("_sort", "file_type:asc,updated_at:desc")

	resp, err := c.do(ctx, http.MethodGet, c.drivePCURL+"/1/clouddrive/share/sharepage/detail", params, nil)
	if err != nil {
		return nil, fmt.Errorf("share detail: %w", err)
	}

	var data struct {
		List []ShareItem `json:"list"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || len(data.List) == 0 {
		return nil, &ShareError{Kind: ErrInvalidShare, ShareID: ref.ShareID, Message: "share is empty"}
	}
	return &data.List[0], nil
}

// SaveTask starts copying a share item into the save directory
func (c *Client) SaveTask(ctx context.Context, ref ShareRef, stoken string, item *ShareItem) (string, error) {
	params := commonParams()
	params.Set("uc_param_str", "")
	params.Set("__dt", strconv.Itoa(60000+rand.IntN(240000)))
	params.Set("__t", strconv.FormatInt(time.Now().UnixMilli(), 10))

	toDir := c.cfg.SaveDirFID
	if toDir == "" {
		toDir = "0"
	}
	body := map[string]interface{}{
		"fid_list":       []string{item.FID},
		"fid_token_list": []string{item.ShareFIDToken},
		"to_pdir_fid":    toDir,
		"pwd_id":         ref.ShareID,
		"stoken":         stoken,
		"pdir_fid":       "0",
		"scene":          "link",
	}

	resp, err := c.do(ctx, http.MethodPost, c.driveURL+"/1/clouddrive/share/sharepage/save", params, body)
	if err != nil {
		return "", fmt.Errorf("save task: %w", err)
	}
	return taskIDFrom(resp, "save")
}

func taskIDFrom(resp *apiResponse, op string) (string, error) {
	if !resp.ok() {
		return "", fmt.Errorf("%s task rejected: %s", op, resp.Message)
	}
	var data struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.TaskID == "" {
		return "", fmt.Errorf("%s task: no task_id in response", op)
	}
	return data.TaskID, nil
}

// TaskResult is the finished state of an async drive task
type TaskResult struct {
	Status  int    `json:"status"`
	ShareID string `json:"share_id"`
	SaveAs  struct {
		SaveAsTopFIDs []string `json:"save_as_top_fids"`
	} `json:"save_as"`
}

// PollTask waits for an async task to finish (status 2)
func (c *Client) PollTask(ctx context.Context, taskID string) (*TaskResult, error) {
	for attempt := 0; attempt < c.cfg.MaxPollAttempts; attempt++ {
		params := commonParams()
		params.Set("uc_param_str", "")
		params.Set("task_id", taskID)
		params.Set("retry_index", strconv.Itoa(attempt))
		params.Set("__dt", "21192")
		params.Set("__t", strconv.FormatInt(time.Now().UnixMilli(), 10))

		resp, err := c.do(ctx, http.MethodGet, c.drivePCURL+"/1/clouddrive/task", params, nil)
		if err != nil {
			return nil, fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if resp.Status != 200 {
			return nil, fmt.Errorf("poll task %s: status %d: %s", taskID, resp.Status, resp.Message)
		}

		var result TaskResult
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			return nil, fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if result.Status == 2 {
			return &result, nil
		}

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("poll task %s: not finished after %d attempts", taskID, c.cfg.MaxPollAttempts)
}

// DirEntry is one file in our own drive
type DirEntry struct {
	FileName string `json:"file_name"`
	FID      string `json:"fid"`
}

// ListDir lists a folder in our drive
func (c *Client) ListDir(ctx context.Context, dirFID string) ([]DirEntry, error) {
	params := commonParams()
	params.Set("pdir_fid", dirFID)
	params.Set("_page", "1")
	params.Set("_size", "50")
	params.Set("_fetch_total", "1")
	params.Set("_fetch_sub_dirs", "0")
	params.Set("_sort", "updated_at:desc")

	resp, err := c.do(ctx, http.MethodGet, c.drivePCURL+"/1/clouddrive/file/sort", params, nil)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	var data struct {
		List []DirEntry `json:"list"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	return data.List, nil
}

// DeleteFile implements repo.Drive
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	params := commonParams()
	params.Set("uc_param_str", "")
	body := map[string]interface{}{
		"action_type":  2,
		"filelist":     []string{fileID},
		"exclude_fids": []string{},
	}

	resp, err := c.do(ctx, http.MethodPost, c.drivePCURL+"/1/clouddrive/file/delete", params, body)
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	if !resp.ok() {
		return fmt.Errorf("delete %s: %s", fileID, resp.Message)
	}
	return nil
}

// CreateShare starts a share task for fid, adding decoy files when configured
func (c *Client) CreateShare(ctx context.Context, fid, title string) (string, error) {
	fids := []string{fid}
	if c.cfg.InsertAd {
		for _, ad := range c.cfg.AdFileIDs {
			if ad != fid {
				fids = append(fids, ad)
			}
		}
	}

	params := commonParams()
	params.Set("uc_param_str", "")
	body := map[string]interface{}{
		"fid_list":     fids,
		"title":        title,
		"url_type":     1,
		"expired_type": 1,
	}

	resp, err := c.do(ctx, http.MethodPost, c.drivePCURL+"/1/clouddrive/share", params, body)
	if err != nil {
		return "", fmt.Errorf("create share: %w", err)
	}
	return taskIDFrom(resp, "share")
}

// SharePassword returns the public URL of a share
func (c *Client) SharePassword(ctx context.Context, shareID string) (string, error) {
	params := commonParams()
	params.Set("uc_param_str", "")

	resp, err := c.do(ctx, http.MethodPost, c.drivePCURL+"/1/clouddrive/share/password", params, map[string]string{"share_id": shareID})
	if err != nil {
		return "", fmt.Errorf("share password: %w", err)
	}
	var data struct {
		ShareURL string `json:"share_url"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.ShareURL == "" {
		return "", fmt.Errorf("share password: no share_url (%s)", resp.Message)
	}
	return data.ShareURL, nil
}

// VerifyAccount checks that the cookie is logged in and returns the nickname
func (c *Client) VerifyAccount(ctx context.Context) (string, error) {
	params := url.Values{"fr": {"pc"}, "platform": {"pc"}}
	resp, err := c.do(ctx, http.MethodGet, c.panURL+"/account/info", params, nil)
	if err != nil {
		return "", fmt.Errorf("account info: %w", err)
	}
	var data struct {
		Nickname string `json:"nickname"`
	}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	if data.Nickname == "" {
		return "", fmt.Errorf("quark cookie invalid: %s", resp.Message)
	}
	return data.Nickname, nil
}

// Transfer implements repo.Drive
func (c *Client) Transfer(ctx context.Context, shareURL string) (*domain.TransferResult, error) {
	ref, err := ParseShareURL(shareURL)
	if err != nil {
		return nil, err
	}

	stoken, err := c.GetStoken(ctx, ref)
	if err != nil {
		return nil, err
	}
	item, err := c.Detail(ctx, ref, stoken)
	if err != nil {
		return nil, err
	}

	if link, err := c.resources.FindShareLinkByName(ctx, item.FileName); err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	} else if link != "" {
		log.Info().Str("component", "quark").Str("file_name", item.FileName).Msg("resource already transferred, reusing share")
		return &domain.TransferResult{IsNew: false, FileName: item.FileName, ShareLink: link}, nil
	}

	taskID, err := c.SaveTask(ctx, ref, stoken, item)
	if err != nil {
		return nil, err
	}
	saved, err := c.PollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(saved.SaveAs.SaveAsTopFIDs) == 0 {
		return nil, fmt.Errorf("save task %s returned no file id", taskID)
	}
	fileID := saved.SaveAs.SaveAsTopFIDs[0]

	if item.FileType == domain.FileTypeDir && len(c.cfg.FilterKeywords) > 0 {
		c.removeAds(ctx, fileID)
	}

	shareTask, err := c.CreateShare(ctx, fileID, item.FileName)
	if err != nil {
		return nil, err
	}
	shared, err := c.PollTask(ctx, shareTask)
	if err != nil {
		return nil, err
	}
	link, err := c.SharePassword(ctx, shared.ShareID)
	if err != nil {
		return nil, err
	}

	res := &domain.TransferredResource{
		FileID:    fileID,
		FileName:  item.FileName,
		FileType:  item.FileType,
		ShareLink: link,
		DriveType: domain.DriveQuark,
	}
	if err := c.resources.Save(ctx, res); err != nil {
		return nil, fmt.Errorf("record transfer: %w", err)
	}

	log.Info().Str("component", "quark").Str("file_name", item.FileName).Str("file_id", fileID).Msg("resource transferred")
	return &domain.TransferResult{IsNew: true, FileName: item.FileName, ShareLink: link}, nil
}

// removeAds deletes children of a saved folder whose names match a filter keyword
func (c *Client) removeAds(ctx context.Context, dirFID string) {
	entries, err := c.ListDir(ctx, dirFID)
	if err != nil {
		log.Warn().Err(err).Str("component", "quark").Msg("ad filter: list dir failed")
		return
	}
	for _, e := range entries {
		if !IsAd(e.FileName, c.cfg.FilterKeywords) {
			continue
		}
		if err := c.DeleteFile(ctx, e.FID); err != nil {
			log.Warn().Err(err).Str("component", "quark").Str("file_name", e.FileName).Msg("ad filter: delete failed")
			continue
		}
		log.Info().Str("component", "quark").Str("file_name", e.FileName).Msg("ad file removed")
	}
}

// IsAd reports whether a file name contains any keyword, case-insensitively
func IsAd(fileName string, keywords []string) bool {
	lower := strings.ToLower(fileName)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
