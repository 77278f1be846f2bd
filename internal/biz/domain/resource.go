package domain

import (
	"regexp"
	"strings"
	"time"
)

// DriveType identifies a cloud-drive provider
type DriveType string

const (
	DriveQuark   DriveType = "quark"
	DriveBaidu   DriveType = "baidu"
	DriveUnknown DriveType = ""
)

// File types as stored in pan_files.file_type
const (
	FileTypeDir  = 0
	FileTypeFile = 1
)

// TransferredResource is a file transferred into the operator's own drive
type TransferredResource struct {
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	FileType  int       `json:"file_type"`
	ShareLink string    `json:"share_link"`
	DriveType DriveType `json:"drive_type"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired checks whether the resource outlived ttl at now
func (r *TransferredResource) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}

// SearchHistory is one append-only search log row
type SearchHistory struct {
	ID          int64     `json:"id"`
	Keyword     string    `json:"keyword"`
	ResultCount int       `json:"result_count"`
	SearchTime  time.Time `json:"search_time"`
}

// Candidate is a normalized search-source hit before transfer
type Candidate struct {
	Title    string
	URL      string
	Password string
	Source   string
}

// SearchResult is a transferred hit ready to show the buyer
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	IsTemporary bool   `json:"is_temporary"`
}

// TransferResult is what a drive returns for one share link
type TransferResult struct {
	IsNew     bool
	FileName  string
	ShareLink string
}

var driveLinkPatterns = []struct {
	re    *regexp.Regexp
	drive DriveType
}{
	{regexp.MustCompile(`https?://pan\.quark\.cn/s/[^\s"'<>]+`), DriveQuark},
	{regexp.MustCompile(`https?://pan\.baidu\.com/s/[^\s"'<>?]+(?:\?pwd=[a-zA-Z0-9]+)?`), DriveBaidu},
}

var pwdRe = regexp.MustCompile(`pwd=([a-zA-Z0-9]+)`)

// ClassifyDriveLink reports which drive a share URL belongs to
func ClassifyDriveLink(url string) DriveType {
	for _, p := range driveLinkPatterns {
		if p.re.MatchString(url) {
			return p.drive
		}
	}
	return DriveUnknown
}

// ExtractDriveLink finds the first supported drive link in free text.
// Returns the link, its extraction code (if any) and drive type.
func ExtractDriveLink(text string) (string, string, DriveType) {
	for _, p := range driveLinkPatterns {
		link := p.re.FindString(text)
		if link == "" {
			continue
		}
		link = strings.TrimRight(link, `">)）`)
		pwd := ""
		if m := pwdRe.FindStringSubmatch(link); len(m) > 1 {
			pwd = m[1]
		}
		return link, pwd, p.drive
	}
	return "", "", DriveUnknown
}
