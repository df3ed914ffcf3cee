package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"llm-chat-service/internal/auth"
	"llm-chat-service/internal/config"
	"llm-chat-service/internal/handlers"
	"llm-chat-service/internal/llm"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/middleware"
	"llm-chat-service/internal/observability"
	"llm-chat-service/internal/rabbitmq"
	"llm-chat-service/internal/repositories"
	"llm-chat-service/internal/service"
	"llm-chat-service/internal/telemetry"
	"llm-chat-service/internal/ws"
)

const (
	janitorInterval = time.Minute
	limiterIdleTTL  = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		logging.New("error").Error(context.Background(), "server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel).With("service", cfg.ServiceName, "env", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn(flushCtx, "tracer shutdown failed", "error", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info(ctx, "event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment, log)

	userRepo, err := repositories.NewUserRepo(cfg.UsersFile)
	if err != nil {
		return err
	}
	historyRepo, err := repositories.NewHistoryRepo(cfg.DataDir)
	if err != nil {
		return err
	}

	tokens := auth.NewTokenStore(cfg.TokenTTL)
	defer tokens.Close()
	authenticator := auth.NewAuthenticator(userRepo, tokens, auth.Options{
		AllowPlaintext: cfg.AllowPlaintextPasswords,
		UpgradeHashes:  cfg.HashPasswords,
	}, log)

	completer := llm.NewClient(llm.Options{
		Endpoint:    cfg.LLMAPIURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})

	hub := ws.NewHub(log)
	sessions := service.NewSessionManager(userRepo, historyRepo, completer, hub, service.Options{
		MaxInputLength:  cfg.MaxInputLength,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ContextTurns:    cfg.ContextTurns,
	}, log)

	authHandler := handlers.NewAuthHandler(authenticator, auditEmitter, log)
	chatHandler := handlers.NewChatHandler(sessions, auditEmitter, log)
	chatWS := ws.NewChatWebSocketHandler(hub, sessions, authenticator)

	loginLimiter := middleware.NewIPRateLimiter(cfg.LoginRPS, cfg.LoginBurst)
	go runJanitor(ctx, log, tokens, loginLimiter)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestIDMiddleware())

	authMiddleware := middleware.AuthMiddleware(authenticator)

	router.POST("/login", middleware.RateLimitMiddleware(loginLimiter), authHandler.Login)
	router.POST("/logout", authMiddleware, authHandler.Logout)

	router.GET("/my_chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chat/new", authMiddleware, chatHandler.CreateChat)
	router.GET("/chat_history", authMiddleware, chatHandler.GetChatHistory)
	router.POST("/chat_send", authMiddleware, chatHandler.SendMessage)
	router.PUT("/chat/:chat_id", authMiddleware, chatHandler.RenameChat)
	router.DELETE("/chat/:chat_id", authMiddleware, chatHandler.DeleteChat)

	router.GET("/ws/chats/:chat_id", chatWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if !handlers.RegisterPages(router, cfg.StaticDir) {
		log.Info(ctx, "static pages disabled", "dir", cfg.StaticDir)
	}
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "http server listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runJanitor drops expired tokens and idle rate limiter buckets.
func runJanitor(ctx context.Context, log logging.Logger, tokens *auth.TokenStore, limiter *middleware.IPRateLimiter) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := tokens.PurgeExpired()
			idle := limiter.Prune(limiterIdleTTL)
			if expired > 0 || idle > 0 {
				log.Debug(ctx, "janitor pass", "expired_tokens", expired, "idle_limiters", idle)
			}
		}
	}
}
