package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nowwhat/placeagent/config"
	"github.com/nowwhat/placeagent/internal/agent"
	"github.com/nowwhat/placeagent/internal/budget"
	"github.com/nowwhat/placeagent/internal/capability"
	"github.com/nowwhat/placeagent/internal/geocode"
	"github.com/nowwhat/placeagent/internal/location"
	"github.com/nowwhat/placeagent/internal/telemetry"
	"github.com/nowwhat/placeagent/internal/tools"
)

// QueryEvaluator is the pre-loop query validation pass.
type QueryEvaluator interface {
	EvaluateQuery(ctx context.Context, query string) (agent.QueryEvaluation, agent.TokenUsage, error)
}

// Server exposes the orchestration loop over HTTP.
type Server struct {
	loop      *agent.Loop
	evaluator QueryEvaluator
	jwtSecret []byte
	logger    *log.Logger
}

// New builds a server. evaluator may be nil to skip query validation;
// jwtSecret may be empty to serve without auth.
func New(loop *agent.Loop, evaluator QueryEvaluator, jwtSecret string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Server{loop: loop, evaluator: evaluator, jwtSecret: secret, logger: logger}
}

// Echo assembles the route tree and middleware stack.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if s.jwtSecret != nil {
		api.Use(withAuth(s.jwtSecret))
	}
	api.POST("/orchestrate", s.orchestrate)
	return e
}

// Run wires the full dependency graph from config and serves until the
// listener fails.
func Run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel = telemetry.New(prometheus.DefaultRegisterer)
	} else {
		tel = telemetry.Nop()
	}

	// Location store: Postgres when configured, otherwise in-process.
	var store location.Store
	if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		pg, err := location.NewPostgresStore(dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Printf("postgres not configured, using in-memory location store")
		store = location.NewMemoryStore()
	}

	geocoder := geocode.NewClient(cfg.Tools.Geocoder.BaseURL, cfg.Tools.Geocoder.UserAgent, cfg.Tools.Geocoder.Timeout)
	resolver, err := location.NewResolver(context.Background(), store, geocoder, cfg.Location.FuzzyThreshold, nil, tel)
	if err != nil {
		return err
	}

	// Result cache: Redis when configured, otherwise in-process.
	var cache capability.ResultCache
	if cfg.Storage.Redis.Addr != "" {
		cache = capability.NewRedisCache(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	} else {
		cache = capability.NewMemoryCache()
	}

	provider, err := agent.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		return err
	}

	naver, err := tools.NewNaverClient(cfg.Tools.Naver, cfg.Tools.Fetch.Timeout)
	if err != nil {
		return err
	}
	registry := capability.NewRegistry()
	if err := tools.Register(registry, tools.Deps{
		Naver:    naver,
		Fetcher:  tools.NewContentFetcher(cfg.Tools.Fetch),
		Resolver: resolver,
		Analyzer: tools.NewAnalyzer(provider, nil),
		Retries:  cfg.Tools.Retries,
	}); err != nil {
		return err
	}

	dispatcher := capability.NewDispatcher(registry, cache, cfg.Location.CacheTTL, cfg.Budget.CallTimeout, nil, tel)
	oracle := agent.NewLLMOracle(provider, registry.Descriptors())
	loop, err := agent.NewLoop(dispatcher, oracle, budget.Config{
		MaxCalls:    cfg.Budget.MaxCalls,
		Timeout:     cfg.Budget.Timeout,
		MaxEntities: cfg.Budget.MaxEntities,
		CallTimeout: cfg.Budget.CallTimeout,
	}, nil, tel)
	if err != nil {
		return err
	}

	srv := New(loop, oracle, cfg.Server.JWTSecret, nil)
	e := srv.Echo()
	logger.Printf("listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}
