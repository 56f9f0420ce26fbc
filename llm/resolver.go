package llm

import (
	"fmt"
	"os"
	"strings"
)

// Resolve parses a model spec (string or map) and returns a Client and the
// bare model name.
//
//	"ollama:llama3.1:8b"
//	"anthropic:claude-3-5-sonnet-20240620"   (key from ANTHROPIC_API_KEY)
//	{provider: openai, model: gpt-4o, api_key: ..., base_url: ...}
func Resolve(modelSpec any) (Client, string, error) {
	switch v := modelSpec.(type) {
	case string:
		return resolveString(v)
	case map[string]any:
		return resolveMap(v)
	default:
		return nil, "", fmt.Errorf("unsupported model spec type: %T", modelSpec)
	}
}

func resolveString(spec string) (Client, string, error) {
	provider, model, _ := strings.Cut(spec, ":")
	switch provider {
	case "ollama", "openai", "anthropic", "gateway":
		return resolveMap(map[string]any{"provider": provider, "model": model})
	default:
		// Try as an Ollama model (e.g. "llama3.1:8b")
		return NewOpenAIClient("http://localhost:11434/v1", "ollama", spec), spec, nil
	}
}

func resolveMap(spec map[string]any) (Client, string, error) {
	provider, _ := spec["provider"].(string)
	model, _ := spec["model"].(string)
	baseURL, _ := spec["base_url"].(string)
	apiKey, _ := spec["api_key"].(string)

	if model == "" {
		return nil, "", fmt.Errorf("%s provider requires a model", provider)
	}

	switch provider {
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return NewOpenAIClient(baseURL, "ollama", model), model, nil
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("openai provider requires api_key or OPENAI_API_KEY")
		}
		return NewOpenAIClient(baseURL, apiKey, model), model, nil
	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("anthropic provider requires api_key or ANTHROPIC_API_KEY")
		}
		c := NewAnthropicClient(baseURL, apiKey, model)
		if cache, ok := spec["prompt_cache"].(bool); ok {
			c.PromptCache = cache
		}
		return c, model, nil
	case "gateway":
		if baseURL == "" {
			return nil, "", fmt.Errorf("gateway provider requires base_url in model spec")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("gateway provider requires api_key in model spec")
		}
		return NewOpenAIClient(baseURL, apiKey, model), model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider: %q", provider)
	}
}
