package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/keygate-io/keygate/internal/auth"
	"github.com/keygate-io/keygate/internal/auth/apikey"
	"github.com/keygate-io/keygate/internal/authz"
	"github.com/keygate-io/keygate/internal/config"
	"github.com/keygate-io/keygate/internal/middleware"
	"github.com/keygate-io/keygate/internal/observability"
	"github.com/keygate-io/keygate/internal/project"
)

// App wires configuration, stores, the validation pipeline and the HTTP
// surface into a runnable gateway.
type App struct {
	cfg      *config.Config
	logger   observability.Logger
	tracer   *observability.Tracer
	registry *prometheus.Registry

	keyMetrics  *apikey.Metrics
	gateMetrics *authz.Metrics

	// memKeys and memProjects are set only for statically configured
	// stores; hot reload replaces their contents in place.
	memKeys     *apikey.MemoryStore
	memProjects *project.MemoryStore
	cache       *apikey.CachedStore
	redisClient *redis.Client

	validator apikey.Validator
	engine    *gin.Engine
	server    *http.Server
}

// NewApp builds a gateway from a validated configuration.
func NewApp(cfg *config.Config, logger observability.Logger) (*App, error) {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "keygate",
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	app := &App{
		cfg:         cfg,
		logger:      logger,
		tracer:      tracer,
		registry:    prometheus.NewRegistry(),
		keyMetrics:  apikey.NewMetrics(cfg.Metrics.Namespace),
		gateMetrics: authz.NewMetrics(cfg.Metrics.Namespace),
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.keyMetrics.MustRegister(app.registry)
	app.gateMetrics.MustRegister(app.registry)
	app.keyMetrics.Init()

	keyStore, projectStore, err := app.buildStores()
	if err != nil {
		return nil, err
	}

	cached := apikey.NewCachedStore(keyStore, cfg.Auth.CacheTTL.Duration(), app.keyMetrics)
	if c, ok := cached.(*apikey.CachedStore); ok {
		app.cache = c
	}

	pipelineCfg := &apikey.Config{
		Hardened:     cfg.Security.Hardened,
		StoreTimeout: cfg.Auth.StoreTimeout.Duration(),
	}
	if cfg.Auth.AllowBypassKeys {
		pipelineCfg.BypassKeys = apikey.DefaultBypassKeys
	}

	validator, err := apikey.NewValidator(pipelineCfg, cached, projectStore,
		apikey.WithValidatorLogger(logger),
		apikey.WithValidatorMetrics(app.keyMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}
	app.validator = validator

	app.engine = app.buildRouter()
	app.server = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      app.engine,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
	}

	return app, nil
}

// buildStores constructs the key and project stores: redis-backed when
// redis is configured, otherwise in-memory stores seeded from the
// static configuration.
func (a *App) buildStores() (apikey.Store, project.Store, error) {
	if a.cfg.Redis != nil {
		opts, err := redis.ParseURL(a.cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		if a.cfg.Redis.PoolSize > 0 {
			opts.PoolSize = a.cfg.Redis.PoolSize
		}
		if d := a.cfg.Redis.ConnectTimeout.Duration(); d > 0 {
			opts.DialTimeout = d
		}
		if d := a.cfg.Redis.ReadTimeout.Duration(); d > 0 {
			opts.ReadTimeout = d
		}
		if d := a.cfg.Redis.WriteTimeout.Duration(); d > 0 {
			opts.WriteTimeout = d
		}

		a.redisClient = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}

		a.logger.Info("using redis-backed stores",
			observability.String("key_prefix", a.cfg.Redis.KeyPrefix),
		)
		keys := apikey.NewRedisStore(a.redisClient, a.cfg.Redis.KeyPrefix,
			apikey.WithRedisStoreLogger(a.logger))
		projects := project.NewRedisStore(a.redisClient, a.cfg.Redis.KeyPrefix)
		return keys, projects, nil
	}

	a.memKeys = apikey.NewMemoryStore()
	a.memKeys.Replace(keyRecordsFromConfig(a.cfg.Auth.Keys))
	a.memProjects = project.NewMemoryStore()
	a.memProjects.Replace(projectsFromConfig(a.cfg.Projects))

	a.logger.Info("using in-memory stores",
		observability.Int("keys", a.memKeys.Count()),
		observability.Int("projects", a.memProjects.Count()),
	)
	return a.memKeys, a.memProjects, nil
}

// buildRouter assembles the gin engine with the middleware chain and
// the gateway routes.
func (a *App) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	clientIP := middleware.NewClientIPExtractor(a.cfg.Security.TrustedProxies)

	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.ClientIP(clientIP))
	engine.Use(middleware.Logging(a.logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry,
		promhttp.HandlerOpts{})))

	extractor := apikey.DefaultExtractor(a.cfg.Auth.Header, a.cfg.Auth.QueryParam)
	gate := authz.NewGate(
		authz.WithGateLogger(a.logger),
		authz.WithGateMetrics(a.gateMetrics),
	)

	v1 := engine.Group("/v1")
	v1.Use(auth.Middleware(a.validator, extractor,
		auth.WithMiddlewareLogger(a.logger)))

	v1.GET("/whoami", a.handleWhoami)
	v1.GET("/projects/self", gate.RequireCapability("project:read"), a.handleProjectSelf)

	return engine
}

// handleWhoami echoes the authenticated identity for the presented key.
func (a *App) handleWhoami(c *gin.Context) {
	authCtx, ok := auth.FromGin(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	if authCtx.Override {
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"override": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"override":    false,
		"project_id":  authCtx.ProjectID,
		"class":       authCtx.Record.Class,
		"permissions": authCtx.Permissions,
	})
}

// handleProjectSelf returns the owning project of the presented key.
func (a *App) handleProjectSelf(c *gin.Context) {
	authCtx, ok := auth.FromGin(c)
	if !ok || authCtx.Project == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"project": gin.H{
			"id":     authCtx.Project.ID,
			"name":   authCtx.Project.Name,
			"status": authCtx.Project.Status,
		},
	})
}

// Run starts the gateway and blocks until shutdown.
func (a *App) Run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := a.startWatcher(ctx, configPath)
	if err != nil {
		a.logger.Warn("configuration hot reload disabled",
			observability.Error(err),
		)
	} else if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("gateway listening",
			observability.String("addr", a.cfg.Server.ListenAddr),
			observability.Bool("hardened", a.cfg.Security.Hardened),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("tracer shutdown", observability.Error(err))
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close", observability.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// startWatcher enables configuration hot reload for statically
// configured stores. Redis-backed deployments manage records out of
// band, so there is nothing to reload.
func (a *App) startWatcher(ctx context.Context, configPath string) (*config.Watcher, error) {
	if a.memKeys == nil {
		return nil, nil
	}

	watcher, err := config.NewWatcher(configPath, a.applyReload,
		config.WithWatcherLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher, nil
}

// applyReload swaps the static key and project sets and drops cached
// lookups. Listener and security settings require a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.memKeys.Replace(keyRecordsFromConfig(cfg.Auth.Keys))
	a.memProjects.Replace(projectsFromConfig(cfg.Projects))
	if a.cache != nil {
		a.cache.Purge()
	}

	a.logger.Info("configuration reloaded",
		observability.Int("keys", a.memKeys.Count()),
		observability.Int("projects", a.memProjects.Count()),
	)
}

// keyRecordsFromConfig converts static key entries into store records.
// Project id and class fall back to the values embedded in the
// credential when not stated explicitly.
func keyRecordsFromConfig(entries []config.KeyEntry) map[string]*apikey.KeyRecord {
	records := make(map[string]*apikey.KeyRecord, len(entries))
	for _, e := range entries {
		record := &apikey.KeyRecord{
			ProjectID:   e.ProjectID,
			Class:       apikey.KeyClass(e.Class),
			Status:      apikey.Status(e.Status),
			ExpiresAt:   e.ExpiresAt,
			IPAllowlist: e.IPAllowlist,
			Permissions: e.Permissions,
		}
		if record.ProjectID == "" || record.Class == "" {
			if d, err := apikey.ParseKey(e.Credential); err == nil {
				if record.ProjectID == "" {
					record.ProjectID = d.ProjectID
				}
				if record.Class == "" {
					record.Class = d.Class
				}
			}
		}
		records[e.Credential] = record
	}
	return records
}

// projectsFromConfig converts static project entries into store
// records.
func projectsFromConfig(entries []config.ProjectEntry) []*project.Project {
	projects := make([]*project.Project, 0, len(entries))
	for _, e := range entries {
		projects = append(projects, &project.Project{
			ID:     e.ID,
			Name:   e.Name,
			Status: project.Status(e.Status),
		})
	}
	return projects
}
