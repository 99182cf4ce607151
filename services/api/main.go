package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/handler"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/mention"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/notify"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/relay"
	"github.com/teamchat/internal/repository"
	"github.com/teamchat/internal/service"
	"github.com/teamchat/internal/startup"
	"github.com/teamchat/internal/storage"
	"github.com/teamchat/internal/storage/memory"
	"github.com/teamchat/internal/ws"
)

const relayChannel = "teamchat:relay"

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep everything in process memory (no database)")
	flag.Parse()

	logger.Info("starting API service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	var stores storage.Stores
	if *inMemory {
		logger.Info("storage: in-memory (data is lost on restart)")
		stores = memory.New().Stores()
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool := connectDB(cfg)
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := startup.RunMigrations(migrateCtx, pool)
		migrateCancel()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		if *migrate {
			return
		}

		users := repository.NewUserRepository(pool)
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := users.ResetOnline(resetCtx); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
		resetCancel()
		logger.Info("database connected, migrations applied")
		stores = repository.NewStores(pool)
	}

	rl := newRelay(cfg)
	defer rl.Close()

	publisher := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	logger.Infof("notification events: %s %s", events.PublisherMode(publisher), events.PublisherNoopReason(publisher))

	pushClient := push.NewClient(cfg.PushServiceURL)
	if !pushClient.Enabled() {
		logger.Info("push: PUSH_SERVICE_URL not set, offline push disabled")
	}

	registry := ws.NewRegistry(cfg.WS.MaxConnections, rl)
	messenger := service.NewMessenger(stores)
	engine := notify.NewEngine(stores, mention.NewResolver(stores.Users), registry, pushClient, publisher)
	dispatcher := notify.NewDispatcher(cfg.Fanout.Workers, cfg.Fanout.QueueSize)
	hub := ws.NewHub(registry, messenger, engine, dispatcher, ws.ClientConfig{
		SendBuffer:     cfg.WS.SendBufferSize,
		WriteTimeout:   cfg.WS.WriteTimeout,
		PongTimeout:    cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		EventRate:      cfg.WS.EventRatePerSec,
		EventBurst:     cfg.WS.EventRateBurst,
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	dispatcher.Start(hubCtx)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      newRouter(cfg, hub, stores, pushClient),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	dispatcher.Stop(shutdownCtx)
	logger.Infof("fanout dispatcher stopped, pending=%d", dispatcher.Pending())
}

func connectDB(cfg *config.Config) *pgxpool.Pool {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2
	return startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "api: ")
}

// newRelay: Redis pub/sub при заданном REDIS_URL, иначе broadcast только внутри процесса.
func newRelay(cfg *config.Config) relay.Relay {
	nodeID := uuid.NewString()
	if cfg.RedisURL == "" {
		logger.Info("relay: local only (REDIS_URL not set)")
		return relay.NewLocal(nodeID)
	}
	cli := startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second, "api: ")
	logger.Infof("relay: redis channel=%s node=%s", relayChannel, nodeID)
	return relay.NewRedis(cli, relayChannel, nodeID)
}

func newRouter(cfg *config.Config, hub *ws.Hub, stores storage.Stores, pushClient *push.Client) http.Handler {
	notifH := handler.NewNotificationHandler(stores.Notifications, stores.Preferences)
	pushH := handler.NewPushHandler(pushClient)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	auth := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	if cfg.DevAuth {
		logger.Warnf("DEV_AUTH enabled: X-User-Id is trusted without verification")
		auth = middleware.DevAuth
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/ws", wsH.ServeWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitAPI(cfg.APIRatePerSec, cfg.APIRateBurst))
			r.Get("/api/notifications", notifH.List)
			r.Post("/api/notifications/{id}/read", notifH.MarkRead)
			r.Get("/api/notifications/preference", notifH.GetPreference)
			r.Put("/api/notifications/preference", notifH.SetPreference)
			r.Post("/api/push/subscribe", pushH.Subscribe)
			r.Post("/api/push/unsubscribe", pushH.Unsubscribe)
		})
	})
	return r
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "teamchat"
		password = "teamchat_secret"
		database = "teamchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
