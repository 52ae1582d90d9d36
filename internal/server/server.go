package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gastrack/gateway/internal/config"
	"github.com/gastrack/gateway/internal/handler"
	"github.com/gastrack/gateway/internal/middleware"
	"github.com/gastrack/gateway/internal/proxy"
	"github.com/gastrack/gateway/internal/quota"
	"github.com/gastrack/gateway/internal/repository"
	"github.com/gastrack/gateway/internal/service"
	"github.com/gastrack/gateway/internal/storage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router        *gin.Engine
	config        *config.Config
	redis         *storage.RedisClient
	postgres      *storage.Postgres
	quotaService  *quota.Service
	proxies       map[string]*proxy.Proxy
	quotaHandler  *handler.QuotaHandler
	apiKeyHandler *handler.APIKeyHandler
	authHandler   *handler.AuthHandler
	systemHandler *handler.SystemHandler
	authService   *service.AuthService
	apiKeyService *service.APIKeyService
	fallback      config.FallbackPolicy
	httpServer    *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	fallback, err := config.ParseFallbackPolicy(cfg.RateLimit.Fallback)
	if err != nil {
		return nil, err
	}

	defaultTier, err := quota.ParseTier(cfg.RateLimit.DefaultTier)
	if err != nil {
		return nil, fmt.Errorf("invalid default tier: %w", err)
	}

	// Quota core
	registry := quota.NewRegistry(redis, cfg.Redis.KeyPrefix, defaultTier)
	counters := quota.NewCounterEngine(redis, cfg.Redis.KeyPrefix)
	quotaService := quota.NewService(redis, registry, counters, cfg.RateLimit.Enabled)

	// Credential and operator services
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, registry)
	userRepo := repository.NewUserRepository(postgres)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)

	s := &Server{
		router:        gin.New(),
		config:        cfg,
		redis:         redis,
		postgres:      postgres,
		quotaService:  quotaService,
		proxies:       make(map[string]*proxy.Proxy),
		quotaHandler:  handler.NewQuotaHandler(quotaService),
		apiKeyHandler: handler.NewAPIKeyHandler(apiKeyService),
		authHandler:   handler.NewAuthHandler(authService),
		authService:   authService,
		apiKeyService: apiKeyService,
		fallback:      fallback,
	}

	s.initializeProxies()
	s.systemHandler = handler.NewSystemHandler(s.proxies)
	s.setupRoutes()

	return s, nil
}

func (s *Server) initializeProxies() {
	for _, svc := range s.config.Services {
		if len(svc.Targets) == 0 {
			log.Printf("Warning: Service %s has no targets configured", svc.Path)
			continue
		}

		p, err := proxy.New(svc.Targets, svc.Strategy)
		if err != nil {
			log.Printf("Failed to create proxy for %s: %v", svc.Path, err)
			continue
		}

		s.proxies[svc.Path] = p
		log.Printf("Initialized proxy for %s -> %v", svc.Path, svc.Targets)
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())

	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	// Administrative surface. Independent of the fallback policy, every
	// quota mutation behind this group answers 503 while the store is down.
	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.GET("/status", s.adminStatus)

		admin.GET("/usage/:key", s.quotaHandler.Usage)
		admin.POST("/quota/:key", s.quotaHandler.SetQuota)
		admin.DELETE("/counters/:key", s.quotaHandler.ResetCounters)

		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.SetActive)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)

		admin.GET("/breakers", s.systemHandler.BreakerStatus)
		admin.POST("/breakers/reset/*service", s.systemHandler.ResetBreaker)
	}

	s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() {
	admission := []gin.HandlerFunc{
		middleware.APIKeyValidator(s.apiKeyService),
		middleware.AdmissionFilter(s.quotaService, s.fallback),
	}

	for path, proxyInstance := range s.proxies {
		p := proxyInstance

		group := s.router.Group(path, admission...)
		group.Any("", p.Handle)
		group.Any("/*proxyPath", p.Handle)

		log.Printf("Registered proxy route: %s", path)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	redisHealth := s.redis.HealthCheck(ctx)

	dbHealthy := true
	if err := s.postgres.Ping(ctx); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealth.Connected || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "admission-gateway",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealth,
			"database": dbHealthy,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	keys, _ := s.apiKeyService.List(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"gateway":      "running",
		"services":     len(s.config.Services),
		"api_keys":     len(keys),
		"rate_limit":   s.config.RateLimit.Enabled,
		"fallback":     s.fallback.String(),
		"default_tier": s.config.RateLimit.DefaultTier,
		"uptime":       time.Since(startTime).Seconds(),
		"timestamp":    time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting admission gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	for _, p := range s.proxies {
		p.Stop()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
