package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// Config represents application configuration
type Config struct {
	Browser BrowserConfig
	Bot     BotConfig
	Search  SearchConfig
	Quark   QuarkConfig
	Baidu   BaiduConfig
	Expiry  ExpiryConfig
	Store   StoreConfig
	LLM     LLMConfig
	Notice  NoticeConfig
	API     APIConfig
	Log     LogConfig

	// Plugins configuration (loaded from YAML)
	Plugins *PluginsConfig

	// Debug mode
	Debug bool
}

// BrowserConfig contains the Chrome session settings
type BrowserConfig struct {
	UserDataDir string
	ChromePath  string
	Headless    bool
	IMURL       string
}

// BotConfig contains the conversation loop settings
type BotConfig struct {
	PollInterval      time.Duration
	ListingWait       time.Duration
	RefreshHours      int
	ShipMarker        string
	PaymentPhrase     string
	EscalationKeyword string
	EscalationReply   string
}

// SearchConfig contains resource search settings
type SearchConfig struct {
	Timeout         time.Duration // per source
	MaxThreads      int           // 0 = unbounded
	Limit           int
	DisabledSources []string
	TransfersPerSec float64
}

// QuarkConfig contains the Quark drive account
type QuarkConfig struct {
	Cookie         string
	SaveDirFID     string
	InsertAd       bool
	AdFileIDs      []string
	FilterKeywords []string
}

// BaiduConfig contains the Baidu drive account
type BaiduConfig struct {
	Cookie  string
	SaveDir string
	Enabled bool
}

// ExpiryConfig contains the reaper settings
type ExpiryConfig struct {
	TTLMinutes int
	Interval   time.Duration
}

// StoreConfig contains storage settings
type StoreConfig struct {
	DBDir string
}

// LLMConfig contains the OpenAI-compatible model settings
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NoticeConfig contains operator notice channels
type NoticeConfig struct {
	Cooldown        time.Duration
	StartupNotice   bool
	DingTalkWebhook string
	DingTalkKeyword string
	WxPusherToken   string
	WxPusherUIDs    []string
	FeishuAppID     string
	FeishuAppSecret string
	FeishuChatID    string
}

// APIConfig contains the admin HTTP server settings
type APIConfig struct {
	Addr string
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".xianyu-assistant")

	dbDir := envString("DB_DIR", filepath.Join(baseDir, "data"))

	userDataDir := envString("BROWSER_USER_DATA_DIR", filepath.Join(baseDir, "chrome"))

	pluginsConfig, err := LoadPluginsConfig(os.Getenv("PLUGINS_CONFIG_PATH"))
	if err != nil {
		log.Warn().Err(err).Str("component", "conf").Msg("invalid plugins config, using defaults")
		pluginsConfig = DefaultPluginsConfig()
	}

	return &Config{
		Browser: BrowserConfig{
			UserDataDir: userDataDir,
			ChromePath:  os.Getenv("CHROME_PATH"),
			Headless:    envBool("BROWSER_HEADLESS", false),
			IMURL:       envString("IM_URL", "https://www.goofish.com/im"),
		},
		Bot: BotConfig{
			PollInterval:      time.Duration(envInt("POLL_INTERVAL_SECONDS", 3)) * time.Second,
			ListingWait:       time.Duration(envInt("LISTING_WAIT_SECONDS", 5)) * time.Second,
			RefreshHours:      envInt("REFRESH_HOURS", 12),
			ShipMarker:        envString("SHIP_MARKER", domain.DefaultShipMarker),
			PaymentPhrase:     envString("PAYMENT_PHRASE", domain.DefaultPaymentPhrase),
			EscalationKeyword: envString("ESCALATION_KEYWORD", domain.DefaultEscalationKeyword),
			EscalationReply:   envString("ESCALATION_REPLY", pluginsConfig.ManualService.Reply),
		},
		Search: SearchConfig{
			Timeout:         time.Duration(envInt("SEARCH_TIMEOUT_SECONDS", 10)) * time.Second,
			MaxThreads:      envInt("MAX_SEARCH_THREADS", 0),
			Limit:           envInt("SEARCH_LIMIT", 5),
			DisabledSources: envList("SEARCH_SOURCES_DISABLED"),
			TransfersPerSec: envFloat("TRANSFERS_PER_SECOND", 1),
		},
		Quark: QuarkConfig{
			Cookie:         os.Getenv("QUARK_COOKIE"),
			SaveDirFID:     envString("QUARK_SAVE_DIR", "0"),
			InsertAd:       envBool("QUARK_INSERT_AD", false),
			AdFileIDs:      envList("QUARK_AD_FIDS"),
			FilterKeywords: envList("QUARK_FILTER_KEYWORDS"),
		},
		Baidu: BaiduConfig{
			Cookie:  os.Getenv("BAIDU_COOKIE"),
			SaveDir: envString("BAIDU_SAVE_DIR", "/资源"),
			Enabled: envBool("BAIDU_ENABLED", false),
		},
		Expiry: ExpiryConfig{
			TTLMinutes: envInt("RESOURCE_TTL_MINUTES", 30),
			Interval:   time.Duration(envInt("REAPER_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Store: StoreConfig{
			DBDir: dbDir,
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
			Model:   os.Getenv("LLM_MODEL"),
		},
		Notice: NoticeConfig{
			Cooldown:        time.Duration(envInt("NOTICE_COOLDOWN_SECONDS", 600)) * time.Second,
			StartupNotice:   envBool("STARTUP_NOTICE", true),
			DingTalkWebhook: os.Getenv("DINGTALK_WEBHOOK"),
			DingTalkKeyword: envString("DINGTALK_KEYWORD", "【闲鱼助手】"),
			WxPusherToken:   os.Getenv("WXPUSHER_APP_TOKEN"),
			WxPusherUIDs:    envList("WXPUSHER_UIDS"),
			FeishuAppID:     os.Getenv("FEISHU_APP_ID"),
			FeishuAppSecret: os.Getenv("FEISHU_APP_SECRET"),
			FeishuChatID:    os.Getenv("FEISHU_CHAT_ID"),
		},
		API: APIConfig{
			Addr: envString("API_ADDR", "127.0.0.1:8765"),
		},
		Log: LogConfig{
			Level:      envString("LOG_LEVEL", "info"),
			File:       envString("LOG_FILE", filepath.Join(baseDir, "logs", "assistant.log")),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 50),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 7),
		},
		Plugins: pluginsConfig,
		Debug:   os.Getenv("DEBUG") == "true",
	}
}

// ResourceTTL returns the lifetime of transferred resources
func (c *Config) ResourceTTL() time.Duration {
	return time.Duration(c.Expiry.TTLMinutes) * time.Minute
}

// ToDetectionConfig converts to the domain detection phrases
func (c *BotConfig) ToDetectionConfig() domain.DetectionConfig {
	return domain.DetectionConfig{
		PaymentPhrase:     c.PaymentPhrase,
		ShipMarker:        c.ShipMarker,
		EscalationKeyword: c.EscalationKeyword,
	}
}

// SourceEnabled reports whether a search source has not been disabled
func (c *SearchConfig) SourceEnabled(name string) bool {
	for _, d := range c.DisabledSources {
		if strings.EqualFold(d, name) {
			return false
		}
	}
	return true
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.DBDir == "" {
		return &ConfigError{Field: "DB_DIR", Message: "required"}
	}
	if c.Bot.PollInterval <= 0 {
		return &ConfigError{Field: "POLL_INTERVAL_SECONDS", Message: "must be positive"}
	}
	if c.Search.Limit <= 0 {
		return &ConfigError{Field: "SEARCH_LIMIT", Message: "must be positive"}
	}
	if c.Search.MaxThreads < 0 {
		return &ConfigError{Field: "MAX_SEARCH_THREADS", Message: "must not be negative"}
	}
	if c.Expiry.TTLMinutes <= 0 {
		return &ConfigError{Field: "RESOURCE_TTL_MINUTES", Message: "must be positive"}
	}
	if c.Notice.FeishuChatID != "" && (c.Notice.FeishuAppID == "" || c.Notice.FeishuAppSecret == "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required when FEISHU_CHAT_ID is set"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

// envList splits a comma separated variable, dropping blanks
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
