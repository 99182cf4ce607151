// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/startup"
)

type Config struct {
	ServerAddr      string
	RedisURL        string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	InternalSecret  string
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:      getEnv("SERVER_ADDR", ":8082"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		Subscriber:      getEnv("VAPID_SUBSCRIBER", "teamchat-push"),
		InternalSecret:  os.Getenv("PUSH_INTERNAL_SECRET"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRouter(s *Server, internalSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/vapid-public", s.handleVAPIDPublic)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.InternalOnly(internalSecret))
		r.Post("/subscribe", s.handleSubscribe)
		r.Delete("/subscribe", s.handleUnsubscribe)
		r.Post("/notify", s.handleNotify)
	})
	return r
}

func main() {
	logger.SetPrefix("push")
	if len(os.Args) > 1 && (os.Args[1] == "-gen-vapid" || os.Args[1] == "--gen-vapid") {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		return
	}
	logger.Info("starting push service")
	cfg := loadConfig()
	keys := &push.VAPIDKeys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		var err error
		keys, err = push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("VAPID: не удалось загрузить/сгенерировать ключи: %v, push отключены", err)
		}
	}
	vapid := keys.Options(cfg.Subscriber, 30)
	if vapid == nil {
		logger.Info("VAPID keys missing: подписки сохраняются, отправка не выполняется")
	}

	rdb := startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second, "push: ")
	defer rdb.Close()
	logger.Info("redis connected")

	s := &Server{store: rdb, vapid: vapid}
	if keys != nil {
		s.publicKey = keys.PublicKey
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      newRouter(s, cfg.InternalSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
