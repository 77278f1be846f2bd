// Package baidu transfers Baidu drive shares into our drive. It sits behind
// the same repo.Drive contract as Quark and is off unless BAIDU_ENABLED is set.
package baidu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// DefaultBaseURL is the Baidu drive web host
const DefaultBaseURL = "https://pan.baidu.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"

// errnoMessages maps Baidu errno values to readable causes
var errnoMessages = map[int]string{
	-1:  "链接错误，链接失效或缺少提取码",
	-4:  "转存失败，无效登录。请退出账号在其他地方的登录",
	-6:  "转存失败，请用浏览器无痕模式获取 Cookie 后再试",
	-7:  "转存失败，转存文件夹名有非法字符，不能包含 < > | * ? \\ :，请改正目录名后重试",
	-8:  "转存失败，目录中已有同名文件或文件夹存在",
	-9:  "链接错误，提取码错误",
	-10: "转存失败，容量不足",
	-12: "链接错误，提取码错误",
	-62: "转存失败，链接访问次数过多，请手动转存或稍后再试",
	0:   "转存成功",
	2:   "转存失败，目标目录不存在",
	4:   "转存失败，目录中存在同名文件",
	12:  "转存失败，转存文件数超过限制",
	20:  "转存失败，容量不足",
	105: "链接错误，所访问的页面不存在",
	404: "转存失败，秒传无效",
}

// Error is a non-zero errno returned by the API
type Error struct {
	Op    string
	Errno int
}

func (e *Error) Error() string {
	msg, ok := errnoMessages[e.Errno]
	if !ok {
		msg = "未知错误"
	}
	return fmt.Sprintf("baidu %s: errno %d: %s", e.Op, e.Errno, msg)
}

var (
	shareIDRe  = regexp.MustCompile(`"shareid":(\d+?),"`)
	shareUKRe  = regexp.MustCompile(`"share_uk":"(\d+?)","`)
	fsIDRe     = regexp.MustCompile(`"fs_id":(\d+?),"`)
	fileNameRe = regexp.MustCompile(`"server_filename":"(.+?)","`)
	bdclndRe   = regexp.MustCompile(`BDCLND=[^;]+`)
)

// Config contains the Baidu account settings
type Config struct {
	Cookie  string
	SaveDir string
}

// Client is the Baidu drive web API client; it implements repo.Drive
type Client struct {
	baseURL    string
	httpClient *http.Client
	saveDir    string
	resources  repo.ResourceRepo

	mu       sync.Mutex
	cookie   string
	bdstoken string
}

// NewClient creates a new Baidu client
func NewClient(cfg Config, resources repo.ResourceRepo) *Client {
	saveDir := cfg.SaveDir
	if saveDir == "" {
		saveDir = "/"
	}
	return &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		saveDir:    saveDir,
		resources:  resources,
		cookie:     cfg.Cookie,
	}
}

// Type implements repo.Drive
func (c *Client) Type() domain.DriveType {
	return domain.DriveBaidu
}

// NormalizeLink rewrites legacy init links and "url code" pairs to url?pwd=code
func NormalizeLink(link string) string {
	link = strings.TrimSpace(strings.Replace(link, "share/init?surl=", "s/1", 1))
	if !strings.Contains(link, "?pwd=") {
		if parts := strings.Fields(link); len(parts) == 2 {
			link = parts[0] + "?pwd=" + parts[1]
		}
	}
	return link
}

// ParseURLAndCode splits a link into its share URL and extraction code
func ParseURLAndCode(link string) (string, string) {
	shareURL, code, _ := strings.Cut(link, "?pwd=")
	return shareURL, code
}

// UpdateCookie sets or replaces BDCLND in a cookie header
func UpdateCookie(bdclnd, cookie string) string {
	if strings.Contains(cookie, "BDCLND=") {
		return bdclndRe.ReplaceAllString(cookie, "BDCLND="+bdclnd)
	}
	if cookie == "" {
		return "BDCLND=" + bdclnd
	}
	return cookie + "; BDCLND=" + bdclnd
}

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateCode returns a random 4-char share code
func GenerateCode() string {
	b := make([]byte, 4)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// ShareParams are the transfer parameters scraped from a share page
type ShareParams struct {
	ShareID  string
	UK       string
	FSIDs    []string
	FileName string
}

// ParseSharePage extracts transfer parameters from share page HTML
func ParseSharePage(body string) (*ShareParams, error) {
	shareID := shareIDRe.FindStringSubmatch(body)
	uk := shareUKRe.FindStringSubmatch(body)
	fsIDs := fsIDRe.FindAllStringSubmatch(body, -1)
	if shareID == nil || uk == nil || len(fsIDs) == 0 {
		return nil, &Error{Op: "parse share page", Errno: -1}
	}

	p := &ShareParams{ShareID: shareID[1], UK: uk[1]}
	for _, m := range fsIDs {
		p.FSIDs = append(p.FSIDs, m[1])
	}
	if name := fileNameRe.FindStringSubmatch(body); name != nil {
		p.FileName = name[1]
	}
	return p, nil
}

func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, form url.Values) ([]byte, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", DefaultBaseURL)

	c.mu.Lock()
	req.Header.Set("Cookie", c.cookie)
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) requestJSON(ctx context.Context, op, method, endpoint string, params, form url.Values, out interface{}) error {
	data, err := c.request(ctx, method, endpoint, params, form)
	if err != nil {
		return fmt.Errorf("baidu %s: %w", op, err)
	}
	var envelope struct {
		Errno int `json:"errno"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("baidu %s: decode: %w", op, err)
	}
	if envelope.Errno != 0 {
		return &Error{Op: op, Errno: envelope.Errno}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("baidu %s: decode: %w", op, err)
		}
	}
	return nil
}

// Bdstoken fetches the CSRF token for the logged-in account
func (c *Client) Bdstoken(ctx context.Context) (string, error) {
	params := url.Values{
		"clienttype": {"0"},
		"app_id":     {"38824127"},
		"web":        {"1"},
		"fields":     {`["bdstoken","token","uk","isdocuser","servertime"]`},
	}
	var out struct {
		Result struct {
			Bdstoken string `json:"bdstoken"`
		} `json:"result"`
	}
	if err := c.requestJSON(ctx, "bdstoken", http.MethodGet, c.baseURL+"/api/gettemplatevariable", params, nil, &out); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.bdstoken = out.Result.Bdstoken
	c.mu.Unlock()
	return out.Result.Bdstoken, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bdstoken
}

// Verify submits the extraction code and stores the returned BDCLND cookie
func (c *Client) Verify(ctx context.Context, shareURL, code string) error {
	surl := strings.TrimPrefix(shareURL, DefaultBaseURL+"/s/1")
	params := url.Values{
		"surl":       {surl},
		"bdstoken":   {c.token()},
		"t":          {strconv.FormatInt(time.Now().UnixMilli(), 10)},
		"channel":    {"chunlei"},
		"web":        {"1"},
		"clienttype": {"0"},
	}
	form := url.Values{"pwd": {code}, "vcode": {""}, "vcode_str": {""}}

	var out struct {
		Randsk string `json:"randsk"`
	}
	if err := c.requestJSON(ctx, "verify", http.MethodPost, c.baseURL+"/share/verify", params, form, &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.cookie = UpdateCookie(out.Randsk, c.cookie)
	c.mu.Unlock()
	return nil
}

// SharePage fetches and parses a share page
func (c *Client) SharePage(ctx context.Context, shareURL string) (*ShareParams, error) {
	pageURL := strings.Replace(shareURL, DefaultBaseURL, c.baseURL, 1)
	body, err := c.request(ctx, http.MethodGet, pageURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("baidu share page: %w", err)
	}
	return ParseSharePage(string(body))
}

// CreateDir creates the save directory; an existing directory is fine
func (c *Client) CreateDir(ctx context.Context, dir string) error {
	params := url.Values{"a": {"commit"}, "bdstoken": {c.token()}}
	form := url.Values{"path": {dir}, "isdir": {"1"}, "block_list": {"[]"}}
	err := c.requestJSON(ctx, "create dir", http.MethodPost, c.baseURL+"/api/create", params, form, nil)
	if e, ok := err.(*Error); ok && e.Errno == -8 {
		return nil
	}
	return err
}

// SaveShare copies the shared files into dir
func (c *Client) SaveShare(ctx context.Context, p *ShareParams, dir string) error {
	params := url.Values{
		"shareid":    {p.ShareID},
		"from":       {p.UK},
		"bdstoken":   {c.token()},
		"channel":    {"chunlei"},
		"web":        {"1"},
		"clienttype": {"0"},
	}
	form := url.Values{
		"fsidlist": {"[" + strings.Join(p.FSIDs, ",") + "]"},
		"path":     {dir},
	}
	return c.requestJSON(ctx, "transfer", http.MethodPost, c.baseURL+"/share/transfer", params, form, nil)
}

// FileEntry is one file in our drive
type FileEntry struct {
	FSID           int64  `json:"fs_id"`
	ServerFilename string `json:"server_filename"`
	Path           string `json:"path"`
	IsDir          int    `json:"isdir"`
}

// ListDir lists a directory, newest first
func (c *Client) ListDir(ctx context.Context, dir string) ([]FileEntry, error) {
	params := url.Values{
		"order": {"time"}, "desc": {"1"}, "showempty": {"0"}, "web": {"1"},
		"page": {"1"}, "num": {"1000"}, "dir": {dir}, "bdstoken": {c.token()},
	}
	var out struct {
		List []FileEntry `json:"list"`
	}
	if err := c.requestJSON(ctx, "list", http.MethodGet, c.baseURL+"/api/list", params, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// CreateShare shares fsID with a code; period "0" means permanent
func (c *Client) CreateShare(ctx context.Context, fsID int64, period, code string) (string, error) {
	params := url.Values{"channel": {"chunlei"}, "bdstoken": {c.token()}, "clienttype": {"0"}}
	form := url.Values{
		"schannel":     {"4"},
		"channel_list": {"[]"},
		"period":       {period},
		"pwd":          {code},
		"fid_list":     {"[" + strconv.FormatInt(fsID, 10) + "]"},
	}
	var out struct {
		Link string `json:"link"`
	}
	if err := c.requestJSON(ctx, "share", http.MethodPost, c.baseURL+"/share/set", params, form, &out); err != nil {
		return "", err
	}
	return out.Link + "?pwd=" + code, nil
}

// DeleteFile implements repo.Drive. File ids are drive paths.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := c.Bdstoken(ctx); err != nil {
		return err
	}
	params := url.Values{"opera": {"delete"}, "async": {"2"}, "onnest": {"fail"}, "bdstoken": {c.token()}}
	list, _ := json.Marshal([]string{fileID})
	form := url.Values{"filelist": {string(list)}}
	return c.requestJSON(ctx, "delete", http.MethodPost, c.baseURL+"/api/filemanager", params, form, nil)
}

// Transfer implements repo.Drive
func (c *Client) Transfer(ctx context.Context, shareURL string) (*domain.TransferResult, error) {
	link, code := ParseURLAndCode(NormalizeLink(shareURL))

	if _, err := c.Bdstoken(ctx); err != nil {
		return nil, err
	}
	if code != "" {
		if err := c.Verify(ctx, link, code); err != nil {
			return nil, err
		}
	}

	params, err := c.SharePage(ctx, link)
	if err != nil {
		return nil, err
	}

	if params.FileName != "" {
		existing, err := c.resources.FindShareLinkByName(ctx, params.FileName)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != "" {
			return &domain.TransferResult{IsNew: false, FileName: params.FileName, ShareLink: existing}, nil
		}
	}

	if c.saveDir != "/" {
		if err := c.CreateDir(ctx, c.saveDir); err != nil {
			return nil, err
		}
	}
	if err := c.SaveShare(ctx, params, c.saveDir); err != nil {
		return nil, err
	}

	entries, err := c.ListDir(ctx, c.saveDir)
	if err != nil {
		return nil, err
	}
	var saved *FileEntry
	for i := range entries {
		if params.FileName == "" || entries[i].ServerFilename == params.FileName {
			saved = &entries[i]
			break
		}
	}
	if saved == nil {
		return nil, fmt.Errorf("baidu transfer: saved file %q not found in %s", params.FileName, c.saveDir)
	}

	shareLink, err := c.CreateShare(ctx, saved.FSID, "0", GenerateCode())
	if err != nil {
		return nil, err
	}

	filePath := saved.Path
	if filePath == "" {
		filePath = path.Join(c.saveDir, saved.ServerFilename)
	}
	fileType := domain.FileTypeFile
	if saved.IsDir == 1 {
		fileType = domain.FileTypeDir
	}
	if err := c.resources.Save(ctx, &domain.TransferredResource{
		FileID:    filePath,
		FileName:  saved.ServerFilename,
		FileType:  fileType,
		ShareLink: shareLink,
		DriveType: domain.DriveBaidu,
	}); err != nil {
		return nil, fmt.Errorf("record transfer: %w", err)
	}

	log.Info().Str("component", "baidu").Str("file_name", saved.ServerFilename).Msg("resource transferred")
	return &domain.TransferResult{IsNew: true, FileName: saved.ServerFilename, ShareLink: shareLink}, nil
}
