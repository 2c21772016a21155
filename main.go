package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/cache"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/reconciler"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.SetupTracing(ctx, "messaging-service", cfg.OTLPEndpoint)
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	store := cache.NewRedisStore(cache.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		RecentSize: cfg.RecentCacheSize,
		RecentTTL:  cfg.RecentCacheTTL,
	})
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	if cfg.AMQPURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.EventExchange)
		if err != nil {
			log.Printf("amqp event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventsPublisher)
			defer eventsPublisher.Close()
		}
	}

	domainPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventExchange)
	defer domainPublisher.Close()
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(domainPublisher))
	audit := telemetry.NewAuditEmitter(domainPublisher, cfg.AuditRoutingKey, "messaging-service", cfg.Environment)

	verifier, err := auth.NewVerifier(cfg.AuthPublicKeys, cfg.AuthIssuer, cfg.AuthAudience)
	if err != nil {
		log.Fatalf("failed to load auth public keys: %v", err)
	}

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	pipe := pipeline.New(convRepo, msgRepo, store, domainPublisher, hub, cfg.MaxListMessages)
	gateway := ws.NewGateway(hub, convRepo, pipe, store, verifier)

	rec := reconciler.New(convRepo, store, hub, cfg.LifecycleWorkers)
	if cfg.AMQPURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.AMQPURL, cfg.LifecycleExchange, cfg.LifecycleQueue, models.LifecycleRoutingKeys())
		if err != nil {
			log.Fatalf("failed to set up lifecycle consumer: %v", err)
		}
		defer consumer.Close()

		deliveries, err := consumer.Deliveries()
		if err != nil {
			log.Fatalf("failed to start lifecycle consumer: %v", err)
		}
		go rec.Run(ctx, deliveries)
	} else {
		log.Println("AMQP_URL not set, lifecycle reconciler disabled")
	}

	conversationHandler := handlers.NewConversationHandler(convRepo, store, audit)
	messageHandler := handlers.NewMessageHandler(pipe, audit)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/class", authMiddleware, conversationHandler.CreateClassConversation)
	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/groups/:group_ref", authMiddleware, conversationHandler.GetGroupConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messageHandler.MarkRead)
	router.GET("/conversations/:conversation_id/presence", authMiddleware, conversationHandler.GetPresence)
	router.GET("/presence/online", authMiddleware, conversationHandler.GetOnlineUsers)

	router.GET("/ws", gateway.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
