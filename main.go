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

	"github.com/campuspoints/portal/handlers"
	"github.com/campuspoints/portal/internal/apiclient"
	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/database"
	"github.com/campuspoints/portal/internal/oidc"
	"github.com/campuspoints/portal/internal/prefs"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/internal/signin"
	"github.com/campuspoints/portal/internal/task"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/metrics"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

// readiness probes, filled while wiring
type probe func(ctx context.Context) error

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: authority=%s store=%s redis=%v mongo=%v", cfg.OIDC.Authority, cfg.Session.Store, cfg.Redis.Host != "", cfg.MongoDB.URI != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probes := map[string]probe{}

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		} else {
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		defer func() { _ = rdb.Close() }()
	}

	repo, closeRepo, err := sessionRepository(ctx, cfg, rdb, probes)
	if err != nil {
		logger.Fatalf("session store: %v", err)
	}
	defer closeRepo()

	sessionsSvc := sessions.NewService(repo, sessions.StorageKey(cfg.OIDC.Authority, cfg.OIDC.ClientID), sessions.Options{
		TTL:       cfg.Session.TTL,
		RenewSkew: cfg.Session.RenewSkew,
		RenewWait: cfg.Session.RenewWait,
	})

	oidcClient, err := newOIDCClient(ctx, cfg.OIDC)
	if err != nil {
		logger.Fatalf("oidc: %v", err)
	}
	sessionsSvc.SetRefresher(oidcClient)

	api, err := apiclient.New(cfg.API)
	if err != nil {
		logger.Fatalf("api client: %v", err)
	}

	var prefStore prefs.Store = prefs.NewMemoryStore()
	if rdb != nil {
		prefStore = prefs.NewRedisStore(rdb)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors(cfg.Server.PublicURL))

	cookie := middleware.SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.SecureCookies()}
	r.Use(middleware.Session(sessionsSvc, cookie))

	// per-user when signed in, otherwise per-IP
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimit(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{}
		ready := true
		for name, p := range probes {
			pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			deps[name] = p(pctx) == nil
			cancel()
			ready = ready && deps[name]
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	resolver := signin.NewResolver(sessionsSvc, api)
	handlers.NewAuthHandler(cfg, oidcClient, sessionsSvc, resolver).Register(r)
	handlers.NewPagesHandler(cfg, api, sessionsSvc, prefStore).Register(r)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting portal on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// sessionRepository opens the configured session store. The returned func
// releases it.
func sessionRepository(ctx context.Context, cfg *config.Config, rdb *redis.Client, probes map[string]probe) (sessions.Repository, func(), error) {
	switch cfg.Session.Store {
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("SESSION_STORE=redis needs REDIS_HOST")
		}
		logger.Infof("using Redis for session storage")
		return sessions.NewRedisRepository(rdb), func() {}, nil

	case "mongo":
		client, err := database.Connect(ctx, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		repo := sessions.NewMongoRepository(client.Database(cfg.MongoDB.Database).Collection("sessions"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warnf("could not create session indexes: %v", err)
		}
		probes["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		logger.Infof("using MongoDB for session storage")
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		repo, err := sessions.NewMemoryRepository()
		if err != nil {
			return nil, nil, err
		}
		sweeper := task.Every(ctx, time.Minute, func(ctx context.Context) {
			if n, err := repo.TerminateExpired(ctx); err != nil {
				logger.Warnf("session sweep: %v", err)
			} else if n > 0 {
				logger.Debugf("session sweep removed %d expired sessions", n)
			}
		})
		logger.Warnf("using in-memory session storage; sessions are lost on restart")
		return repo, sweeper.Stop, nil
	}
}

// newOIDCClient discovers the provider, or under ALLOW_INSECURE_TOKEN talks to
// the hosted UI endpoints and trusts ID tokens without checking signatures.
func newOIDCClient(ctx context.Context, cfg config.OIDCConfig) (*oidc.Client, error) {
	if cfg.AllowInsecure {
		domain := cfg.CognitoDomain
		if domain == "" {
			domain = cfg.Authority
		}
		logger.Warnf("enabling insecure OIDC verifier (integration mode)")
		return oidc.NewClient(cfg, oidc.HostedUIEndpoint(domain), oidc.NewInsecureVerifier()), nil
	}
	// the provider keeps ctx for later key set fetches
	return oidc.Discover(ctx, cfg)
}

// cors allows the shell at origin to call the portal with credentials.
func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Refresh")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
