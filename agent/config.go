package agent

// DefaultMaxTokens is used when the config leaves max_tokens unset.
const DefaultMaxTokens = 4096

// AgentConfig is the agent section of chat.yaml.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Model        any      `yaml:"model" json:"model"` // string or map
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Tools        []string `yaml:"tools" json:"tools"`
	Temperature  *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens" json:"max_tokens"`

	// HistoryWindow is the number of conversation messages sent to the
	// model. Zero means the default of 10.
	HistoryWindow int `yaml:"history_window" json:"history_window"`

	// Documents is the number of uploaded chunks injected per request.
	Documents int  `yaml:"documents" json:"documents"`
	Debug     bool `yaml:"debug" json:"debug"`
}

// ModelStr extracts a display string from the Model field (string or map).
func (c *AgentConfig) ModelStr() string {
	switch v := c.Model.(type) {
	case string:
		return v
	case map[string]any:
		prov, _ := v["provider"].(string)
		model, _ := v["model"].(string)
		if prov != "" && model != "" {
			return prov + ":" + model
		}
		if model != "" {
			return model
		}
		return prov
	default:
		return ""
	}
}

func (c *AgentConfig) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}
