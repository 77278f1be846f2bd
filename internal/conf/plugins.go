package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// PluginsConfig contains plugin settings loaded from YAML
type PluginsConfig struct {
	Priorities    map[string]int       `yaml:"priorities"`
	KeywordRules  []domain.KeywordRule `yaml:"keyword_rules"`
	AIReply       AIReplyConfig        `yaml:"ai_reply"`
	ManualService ManualServiceConfig  `yaml:"manual_service"`
	AutoShip      AutoShipConfig       `yaml:"auto_ship"`
	Search        SearchTexts          `yaml:"resource_search"`
	Notice        NoticeTexts          `yaml:"notice"`
}

// AIReplyConfig holds the seller persona prompt.
// Placeholders: {{price}}, {{desc}}, {{other}}
type AIReplyConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// ManualServiceConfig holds escalation texts.
// NoticeTemplate placeholder: {{user}}
type ManualServiceConfig struct {
	Reply          string `yaml:"reply"`
	NoticeTemplate string `yaml:"notice_template"`
}

// AutoShipConfig holds the delivery message prefix
type AutoShipConfig struct {
	Prefix string `yaml:"prefix"`
}

// SearchTexts holds the buyer-facing search texts
type SearchTexts struct {
	PendingText string `yaml:"pending_text"`
	ErrorText   string `yaml:"error_text"`
}

// NoticeTexts holds the message-forwarding notice.
// Template placeholders: {{user}}, {{message}}
type NoticeTexts struct {
	Template string `yaml:"template"`
	Prefix   string `yaml:"prefix"`
}

// DefaultPriorities are the chain priorities used when YAML omits a plugin
var DefaultPriorities = map[string]int{
	"auto_ship":       900,
	"manual_service":  800,
	"resource_search": 500,
	"keyword":         300,
	"notice":          200,
	"ai_reply":        100,
}

// DefaultPluginsConfig returns the built-in plugin texts
func DefaultPluginsConfig() *PluginsConfig {
	priorities := make(map[string]int, len(DefaultPriorities))
	for k, v := range DefaultPriorities {
		priorities[k] = v
	}
	return &PluginsConfig{
		Priorities: priorities,
		AIReply: AIReplyConfig{
			SystemPrompt: "不需要引导语句。不需要任何前缀。\n" +
				"你现在的身份是闲鱼二手交易平台的卖家，你需要尽可能模仿真实的人回答客户的问题，并吸引客户下单，你需要根据商品介绍回答问题，需要简洁的回答\n" +
				"商品价格：{{price}}\n商品介绍：{{desc}}\n其他说明：{{other}}",
		},
		ManualService: ManualServiceConfig{
			Reply:          "已为您通知人工客服，请稍等...",
			NoticeTemplate: "客户：{{user}}:需要转人工",
		},
		AutoShip: AutoShipConfig{
			Prefix: domain.DefaultShipMarker + ": \n",
		},
		Search: SearchTexts{
			PendingText: "🔍正在获取资源，请稍等...",
			ErrorText:   "搜索过程中发生错误，请稍后再试",
		},
		Notice: NoticeTexts{
			Template: "用户 {{user}} 发送消息:\n{{message}}",
			Prefix:   "用户消息",
		},
	}
}

// LoadPluginsConfig loads plugin configuration from a YAML file.
// A missing file yields defaults; a malformed one is an error.
func LoadPluginsConfig(configPath string) (*PluginsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/plugins.yaml",
			"/etc/xianyu-assistant/plugins.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "plugins.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
	}

	if data == nil {
		log.Info().Str("component", "conf").Msg("no plugins.yaml found, using defaults")
		return DefaultPluginsConfig(), nil
	}

	log.Info().Str("component", "conf").Str("path", loadedPath).Msg("loading plugins config")

	var config PluginsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}

	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PluginsConfig) fillDefaults() {
	defaults := DefaultPluginsConfig()

	if c.Priorities == nil {
		c.Priorities = map[string]int{}
	}
	for name, p := range defaults.Priorities {
		if _, ok := c.Priorities[name]; !ok {
			c.Priorities[name] = p
		}
	}

	if c.AIReply.SystemPrompt == "" {
		c.AIReply.SystemPrompt = defaults.AIReply.SystemPrompt
	}
	if c.ManualService.Reply == "" {
		c.ManualService.Reply = defaults.ManualService.Reply
	}
	if c.ManualService.NoticeTemplate == "" {
		c.ManualService.NoticeTemplate = defaults.ManualService.NoticeTemplate
	}
	if c.AutoShip.Prefix == "" {
		c.AutoShip.Prefix = defaults.AutoShip.Prefix
	}
	if c.Search.PendingText == "" {
		c.Search.PendingText = defaults.Search.PendingText
	}
	if c.Search.ErrorText == "" {
		c.Search.ErrorText = defaults.Search.ErrorText
	}
	if c.Notice.Template == "" {
		c.Notice.Template = defaults.Notice.Template
	}
	if c.Notice.Prefix == "" {
		c.Notice.Prefix = defaults.Notice.Prefix
	}
}

// Priority returns the configured priority for a plugin, or 0 if unknown
func (c *PluginsConfig) Priority(name string) int {
	return c.Priorities[name]
}

// BuildSystemPrompt fills the AI persona prompt with listing data
func (c *PluginsConfig) BuildSystemPrompt(l *domain.Listing) string {
	r := strings.NewReplacer(
		"{{price}}", l.Price,
		"{{desc}}", l.Description,
		"{{other}}", l.OtherNotes,
	)
	return r.Replace(c.AIReply.SystemPrompt)
}

// EscalationNotice renders the operator notice for an escalation
func (c *PluginsConfig) EscalationNotice(user string) string {
	return strings.ReplaceAll(c.ManualService.NoticeTemplate, "{{user}}", user)
}

// ForwardNotice renders the message-forwarding notice
func (c *PluginsConfig) ForwardNotice(user, message string) string {
	r := strings.NewReplacer("{{user}}", user, "{{message}}", message)
	return r.Replace(c.Notice.Template)
}
