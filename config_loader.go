package wickchat

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"wick_chat/agent"
	"wick_chat/auth"
)

// FileConfig is the top-level structure of chat.yaml.
type FileConfig struct {
	Agent agent.AgentConfig `yaml:"agent"`

	// Auth is optional. Without it every request runs as the local user.
	Auth *AuthFileConfig `yaml:"auth"`

	Database string       `yaml:"database"`
	Upload   UploadConfig `yaml:"upload"`
	Stream   StreamConfig `yaml:"stream"`
}

type AuthFileConfig struct {
	auth.Config `yaml:",inline"`
	Users       []auth.UserConfig `yaml:"users"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

type StreamConfig struct {
	KeepAlive time.Duration `yaml:"keep_alive"`
	Timeout   time.Duration `yaml:"timeout"`
	// PersistAssistant stores the reply server-side instead of leaving it
	// to the client.
	PersistAssistant bool `yaml:"persist_assistant"`
}

// DefaultFileConfig is used when no chat.yaml is given.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Agent: agent.AgentConfig{
			Name:         "Assistant",
			Model:        "ollama:llama3.1:8b",
			SystemPrompt: defaultSystemPrompt,
		},
		Database: "data/chat.db",
	}
}

const defaultSystemPrompt = `You are a helpful AI assistant. Answer clearly and concisely.
When the user has uploaded documents, use search_documents to ground your answers and cite the source.
Use calculate for arithmetic instead of working it out yourself.`

// envRef matches ${VAR}. Bare $ is left alone: bcrypt hashes are full of it.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// LoadConfigFile reads chat.yaml on top of DefaultFileConfig. ${VAR}
// references are expanded from the environment and a relative database
// path is resolved against the file's directory.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Database != "" && !filepath.IsAbs(cfg.Database) {
		configDir, _ := filepath.Abs(filepath.Dir(path))
		cfg.Database = filepath.Join(configDir, cfg.Database)
	}
	if cfg.Agent.Model == nil {
		return nil, fmt.Errorf("agent.model is required")
	}
	if cfg.Auth != nil && len(cfg.Auth.Users) == 0 {
		return nil, fmt.Errorf("auth is configured but no users are defined")
	}
	return cfg, nil
}
