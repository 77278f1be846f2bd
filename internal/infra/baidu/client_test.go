package baidu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

type mockResourceRepo struct {
	saved []*domain.TransferredResource
}

func (m *mockResourceRepo) Save(ctx context.Context, r *domain.TransferredResource) error {
	m.saved = append(m.saved, r)
	return nil
}
func (m *mockResourceRepo) Delete(ctx context.Context, id string) error { return nil }
func (m *mockResourceRepo) FindShareLinkByName(ctx context.Context, name string) (string, error) {
	for _, r := range m.saved {
		if r.FileName == name {
			return r.ShareLink, nil
		}
	}
	return "", nil
}
func (m *mockResourceRepo) FindExpired(ctx context.Context, ttl time.Duration, drive domain.DriveType) ([]*domain.TransferredResource, error) {
	return nil, nil
}
func (m *mockResourceRepo) List(ctx context.Context, limit int) ([]*domain.TransferredResource, error) {
	return nil, nil
}

func TestNormalizeLink(t *testing.T) {
	tests := map[string]string{
		"https://pan.baidu.com/share/init?surl=abcd": "https://pan.baidu.com/s/1abcd",
		"https://pan.baidu.com/s/1abcd x1y2":         "https://pan.baidu.com/s/1abcd?pwd=x1y2",
		"https://pan.baidu.com/s/1abcd?pwd=x1y2":     "https://pan.baidu.com/s/1abcd?pwd=x1y2",
	}
	for in, want := range tests {
		if got := NormalizeLink(in); got != want {
			t.Errorf("NormalizeLink(%q) = %q, want %q", in, got, want)
		}
	}

	link, code := ParseURLAndCode("https://pan.baidu.com/s/1abcd?pwd=x1y2")
	if link != "https://pan.baidu.com/s/1abcd" || code != "x1y2" {
		t.Errorf("Unexpected split: %q %q", link, code)
	}
}

func TestUpdateCookie(t *testing.T) {
	if got := UpdateCookie("new", "BDUSS=a; BDCLND=old; STOKEN=b"); got != "BDUSS=a; BDCLND=new; STOKEN=b" {
		t.Errorf("Unexpected replace: %q", got)
	}
	if got := UpdateCookie("new", "BDUSS=a"); got != "BDUSS=a; BDCLND=new" {
		t.Errorf("Unexpected append: %q", got)
	}
}

func TestGenerateCode(t *testing.T) {
	re := regexp.MustCompile(`^[a-z0-9]{4}$`)
	for i := 0; i < 20; i++ {
		if code := GenerateCode(); !re.MatchString(code) {
			t.Errorf("Unexpected code %q", code)
		}
	}
}

func TestParseSharePage(t *testing.T) {
	page := `<script>locals.mset({"shareid":12345,"share_uk":"678","file_list":[{"fs_id":111,"server_filename":"教程.zip","isdir":0}]})</script>`
	p, err := ParseSharePage(page)
	if err != nil {
		t.Fatalf("ParseSharePage failed: %v", err)
	}
	if p.ShareID != "12345" || p.UK != "678" || len(p.FSIDs) != 1 || p.FSIDs[0] != "111" || p.FileName != "教程.zip" {
		t.Errorf("Unexpected params: %+v", p)
	}

	_, err = ParseSharePage("<html>链接不存在</html>")
	var bdErr *Error
	if !errors.As(err, &bdErr) || bdErr.Errno != -1 {
		t.Errorf("Expected errno -1, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	var verifiedCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/gettemplatevariable":
			io.WriteString(w, `{"errno":0,"result":{"bdstoken":"tok"}}`)
		case "/share/verify":
			if r.URL.Query().Get("surl") != "abcd" {
				t.Errorf("unexpected surl %q", r.URL.Query().Get("surl"))
			}
			r.ParseForm()
			if r.PostForm.Get("pwd") != "x1y2" {
				io.WriteString(w, `{"errno":-9}`)
				return
			}
			io.WriteString(w, `{"errno":0,"randsk":"RS"}`)
		case "/s/1abcd":
			verifiedCookie = r.Header.Get("Cookie")
			io.WriteString(w, `{"shareid":1,"share_uk":"2","fs_id":3,"server_filename":"资料.pdf","isdir":0,"x":1}`)
		case "/api/create":
			io.WriteString(w, `{"errno":-8}`)
		case "/share/transfer":
			io.WriteString(w, `{"errno":0}`)
		case "/api/list":
			io.WriteString(w, `{"errno":0,"list":[{"fs_id":99,"server_filename":"资料.pdf","path":"/资源/资料.pdf","isdir":0}]}`)
		case "/share/set":
			r.ParseForm()
			if r.PostForm.Get("fid_list") != "[99]" {
				t.Errorf("unexpected fid_list %q", r.PostForm.Get("fid_list"))
			}
			io.WriteString(w, `{"errno":0,"link":"https://pan.baidu.com/s/1mine"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	resources := &mockResourceRepo{}
	c := NewClient(Config{Cookie: "BDUSS=a", SaveDir: "/资源"}, resources)
	c.baseURL = srv.URL

	res, err := c.Transfer(context.Background(), "https://pan.baidu.com/s/1abcd?pwd=x1y2")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !res.IsNew || res.FileName != "资料.pdf" || !strings.HasPrefix(res.ShareLink, "https://pan.baidu.com/s/1mine?pwd=") {
		t.Errorf("Unexpected result: %+v", res)
	}
	if verifiedCookie != "BDUSS=a; BDCLND=RS" {
		t.Errorf("Expected BDCLND cookie after verify, got %q", verifiedCookie)
	}
	if len(resources.saved) != 1 || resources.saved[0].FileID != "/资源/资料.pdf" || resources.saved[0].DriveType != domain.DriveBaidu {
		t.Errorf("Unexpected saved record: %+v", resources.saved)
	}

	again, err := c.Transfer(context.Background(), "https://pan.baidu.com/s/1abcd?pwd=x1y2")
	if err != nil || again.IsNew {
		t.Errorf("Expected dedup hit, got %+v %v", again, err)
	}

	_, err = c.Transfer(context.Background(), "https://pan.baidu.com/s/1abcd?pwd=zzzz")
	var bdErr *Error
	if !errors.As(err, &bdErr) || bdErr.Errno != -9 {
		t.Errorf("Expected errno -9, got %v", err)
	}
}
