package domain

import "strings"

// Keyword rule actions
const (
	ActionNone           = ""
	ActionSearchResource = "search_resource"
	ActionCustomPlugin   = "custom_plugin"
)

// KeywordRule maps buyer keywords to a canned response and/or an action
type KeywordRule struct {
	Keywords     []string          `yaml:"keywords" json:"keywords"`
	Response     string            `yaml:"response" json:"response"`
	Action       string            `yaml:"action" json:"action"`
	Query        string            `yaml:"query" json:"query"`
	PluginName   string            `yaml:"plugin_name" json:"plugin_name"`
	PluginParams map[string]string `yaml:"plugin_params" json:"plugin_params"`
}

// Matches checks the message against the rule keywords (case-insensitive)
func (r *KeywordRule) Matches(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range r.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
