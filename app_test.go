package wickchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wick_chat/auth"
	"wick_chat/chat"
	"wick_chat/client"
	"wick_chat/llm"
)

// toolThenAnswer asks for calculate on the first call and answers on the
// second.
type toolThenAnswer struct {
	mu   sync.Mutex
	reqs []llm.Request
}

func (f *toolThenAnswer) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return llm.Collect(ctx, f, req)
}

func (f *toolThenAnswer) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	f.mu.Lock()
	n := len(f.reqs)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if n%2 == 0 {
		ch <- llm.StreamChunk{ToolCall: &llm.ToolCallResult{ID: "call_1", Name: "calculate", Args: map[string]any{"expression": "6*7"}}}
	} else {
		ch <- llm.StreamChunk{Delta: "The answer "}
		ch <- llm.StreamChunk{Delta: "is 42."}
	}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

func testConfig(t *testing.T) *FileConfig {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := DefaultFileConfig()
	cfg.Database = filepath.Join(t.TempDir(), "chat.db")
	cfg.Auth = &AuthFileConfig{
		Config: auth.Config{JWTSecret: "test-secret"},
		Users:  []auth.UserConfig{{Username: "alice", PasswordHash: string(hash)}},
	}
	return cfg
}

func TestServerEndToEnd(t *testing.T) {
	fake := &toolThenAnswer{}
	s := New(WithConfig(testConfig(t)), WithLLM(fake), WithStaticPath(filepath.Join(t.TempDir(), "none")))
	h, err := s.Handler()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	ctx := context.Background()
	c := client.New(srv.URL, "")
	_, err = c.CreateChat(ctx, "unauthorized")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	conv, err := c.CreateChat(ctx, "math")
	require.NoError(t, err)

	turn, err := c.Ask(ctx, chat.Request{ChatID: conv.ID, NewMessage: "What is 6 times 7?"}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(turn.Text(), "The answer is 42."))
	assert.Contains(t, turn.Text(), client.FormatTerminal("calculate", map[string]any{"expression": "6*7"}, "42"))

	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "What is 6 times 7?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, turn.Text(), msgs[1].Content)

	// The second model call carries the tool result.
	require.Len(t, fake.reqs, 2)
	last := fake.reqs[1].Messages[len(fake.reqs[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "42", last.Content)
}

func TestServerRejectsUnknownTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Tools = []string{"calculate", "internet_search"}
	s := New(WithConfig(cfg), WithLLM(&toolThenAnswer{}))
	_, err := s.Handler()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tool "internet_search"`)
	s.Close()
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	t.Setenv("TEST_JWT_SECRET", "from-env")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  name: Helper
  model:
    provider: openai
    model: gpt-4o-mini
  system_prompt: Be brief.
  tools: [calculate]
  history_window: 6
auth:
  jwt_secret: ${TEST_JWT_SECRET}
  token_expiry: 1h
  users:
    - username: alice
      password_hash: "$2a$10$abc"
database: data/chat.db
upload:
  max_bytes: 1024
stream:
  keep_alive: 20s
  timeout: 2m
  persist_assistant: true
`), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Helper", cfg.Agent.Name)
	assert.Equal(t, "openai:gpt-4o-mini", cfg.Agent.ModelStr())
	assert.Equal(t, []string{"calculate"}, cfg.Agent.Tools)
	assert.Equal(t, 6, cfg.Agent.HistoryWindow)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "1h", cfg.Auth.TokenExpiry)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "$2a$10$abc", cfg.Auth.Users[0].PasswordHash)
	assert.Equal(t, filepath.Join(dir, "data", "chat.db"), cfg.Database)
	assert.EqualValues(t, 1024, cfg.Upload.MaxBytes)
	assert.Equal(t, "20s", cfg.Stream.KeepAlive.String())
	assert.Equal(t, "2m0s", cfg.Stream.Timeout.String())
	assert.True(t, cfg.Stream.PersistAssistant)
}

func TestLoadConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		p := filepath.Join(dir, "chat.yaml")
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = LoadConfigFile(write("agent: ["))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = LoadConfigFile(write("auth:\n  jwt_secret: k\n"))
	assert.ErrorContains(t, err, "no users")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("WICK_TEST_PORT", "9001")
	t.Setenv("WICK_TEST_BAD", "nine")
	assert.Equal(t, 9001, envIntOr("WICK_TEST_PORT", 1))
	assert.Equal(t, 1, envIntOr("WICK_TEST_BAD", 1))
	assert.Equal(t, "def", envOr("WICK_TEST_UNSET", "def"))
}

var _ llm.Client = (*toolThenAnswer)(nil)
