// Package wickchat assembles the chat server: persistence, the agent with
// its tools and hooks, the streaming driver, auth and the HTTP routes.
package wickchat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"wick_chat/agent"
	"wick_chat/auth"
	"wick_chat/chat"
	"wick_chat/docs"
	"wick_chat/handlers"
	"wick_chat/hooks"
	"wick_chat/llm"
	"wick_chat/store"
	"wick_chat/tracing"
)

// Server is the main wick_chat instance. Create one with New(), then call
// Start() to run the HTTP server.
type Server struct {
	host        string
	port        int
	configFile  string
	database    string
	staticPath  string
	allowOrigin string

	file      *FileConfig
	llmClient llm.Client

	store *store.Store
	srv   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port (default 8000).
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithHost sets the listen host (default "0.0.0.0").
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithConfigFile sets the path to a chat.yaml config file.
func WithConfigFile(path string) Option {
	return func(s *Server) { s.configFile = path }
}

// WithConfig uses cfg instead of reading a file.
func WithConfig(cfg *FileConfig) Option {
	return func(s *Server) { s.file = cfg }
}

// WithDatabase overrides the SQLite path from the config.
func WithDatabase(path string) Option {
	return func(s *Server) { s.database = path }
}

// WithLLM uses client instead of resolving the configured model.
func WithLLM(client llm.Client) Option {
	return func(s *Server) { s.llmClient = client }
}

// WithStaticPath sets the directory for static file serving with SPA fallback.
func WithStaticPath(path string) Option {
	return func(s *Server) { s.staticPath = path }
}

// WithAllowOrigin sets the CORS Access-Control-Allow-Origin value.
func WithAllowOrigin(origin string) Option {
	return func(s *Server) { s.allowOrigin = origin }
}

// New creates a new Server with the given options.
func New(opts ...Option) *Server {
	s := &Server{
		host:        "0.0.0.0",
		port:        8000,
		staticPath:  "static",
		allowOrigin: "*",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler opens the store and builds the full route tree. Call Close to
// release the store.
func (s *Server) Handler() (http.Handler, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database
	if s.database != "" {
		dbPath = s.database
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}

	var authSvc *auth.Service
	if cfg.Auth != nil {
		authSvc, err = auth.NewService(cfg.Auth.Config, cfg.Auth.Users)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	docStore := docs.NewStore()
	traces := tracing.NewStore(100)

	streamer, model, err := s.buildStreamer(cfg, st, docStore, traces)
	if err != nil {
		st.Close()
		return nil, err
	}

	deps := &handlers.Deps{
		Store:          st,
		Docs:           docStore,
		Streamer:       streamer,
		EventBus:       handlers.NewEventBus(),
		Traces:         traces,
		Auth:           authSvc,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		CheckOrigin:    s.checkOrigin,
	}

	apiMux := http.NewServeMux()
	handlers.RegisterRoutes(apiMux, deps)
	protected := auth.Middleware(authSvc, apiMux)

	mux := http.NewServeMux()
	mux.Handle("/health", protected)
	mux.Handle("/auth/", protected)
	mux.Handle("/api/", protected)

	// Static file serving with SPA fallback
	if info, err := os.Stat(s.staticPath); err == nil && info.IsDir() {
		log.Printf("Serving static files from %s", s.staticPath)
		fs := http.FileServer(http.Dir(s.staticPath))
		staticPath := s.staticPath
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := staticPath + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) && r.URL.Path != "/" {
				http.ServeFile(w, r, staticPath+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	authMode := "disabled"
	if authSvc != nil {
		authMode = "jwt"
	}
	log.Printf("wick_chat ready (model=%s, db=%s, auth=%s)", model, dbPath, authMode)

	s.store = st

	return s.corsMiddleware(mux), nil
}

func (s *Server) loadConfig() (*FileConfig, error) {
	switch {
	case s.file != nil:
		return s.file, nil
	case s.configFile != "":
		log.Printf("Loading config from %s", s.configFile)
		cfg, err := LoadConfigFile(s.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	default:
		return DefaultFileConfig(), nil
	}
}

// buildStreamer wires model, tools and hooks into an agent and wraps it in
// the tracing source and the stream driver.
func (s *Server) buildStreamer(cfg *FileConfig, st *store.Store, docStore *docs.Store, traces *tracing.Store) (*chat.Streamer, string, error) {
	agentCfg := cfg.Agent
	client, model := s.llmClient, agentCfg.ModelStr()
	if client == nil {
		var err error
		client, model, err = llm.Resolve(agentCfg.Model)
		if err != nil {
			return nil, "", fmt.Errorf("resolve model: %w", err)
		}
	}

	registry := agent.NewToolRegistry()
	for _, t := range handlers.NewBuiltinTools(docStore) {
		registry.Register(t)
	}
	tools, err := registry.Select(agentCfg.Tools)
	if err != nil {
		return nil, "", err
	}

	hookList := []agent.Hook{
		tracing.NewTracingHook(),
		hooks.NewHistoryHook(agentCfg.HistoryWindow),
		hooks.NewDocumentsHook(docStore, agentCfg.Documents),
	}
	a := agent.NewAgent("chat", &agentCfg, client, tools, hookList)

	return &chat.Streamer{
		Source:           &tracing.Source{Next: chat.AgentSource{Agent: a}, Store: traces, Model: model},
		Store:            st,
		KeepAlive:        cfg.Stream.KeepAlive,
		Timeout:          cfg.Stream.Timeout,
		PersistAssistant: cfg.Stream.PersistAssistant,
	}, model, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.allowOrigin
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start builds the handler and serves until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	defer s.Close()

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for SSE
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("wick_chat starting on %s", addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the store.
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
