package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/auth"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/router"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/typing"
	"messenger-service/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.OTLPAddr, "messenger-service", cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	auditor := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", cfg.Environment)

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	registry := presence.NewRegistry()
	presencePublisher := presence.NewPublisher(registry)
	coordinator := typing.NewCoordinator(registry, cfg.TypingIdleTimeout, cfg.TypingSweepInterval)
	go coordinator.Run(context.Background())
	messageRouter := router.NewRouter(registry, messageRepo)

	authHandler := handlers.NewAuthHandler(userRepo, tokens, auditor)
	messageHandler := handlers.NewMessageHandler(userRepo, messageRepo, registry, messageRouter)
	socketHandler := ws.NewSocketHandler(registry, presencePublisher, coordinator, messageRouter, tokens, ws.Config{
		AllowUnauthenticated: cfg.AllowUnauthenticated,
		PingInterval:         cfg.PingInterval,
		PongWait:             cfg.PongWait,
	})

	engine := gin.Default()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("messenger-service"))
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(tokens)

	engine.POST("/auth/signup", authHandler.Signup)
	engine.POST("/auth/signin", authHandler.Signin)
	engine.POST("/auth/signout", authHandler.Signout)
	engine.PUT("/auth/profile", authMiddleware, authHandler.UpdateProfile)

	engine.GET("/messages/users", authMiddleware, messageHandler.ListUsers)
	engine.GET("/messages/:user_id", authMiddleware, messageHandler.GetConversation)
	engine.POST("/messages/send/:receiver_id", authMiddleware, messageHandler.SendMessage)
	engine.PUT("/messages/read/:message_id", authMiddleware, messageHandler.MarkMessageRead)

	engine.GET("/ws", socketHandler.Handle)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(engine, registry, auditor, cfg.DebugRoutes)

	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
