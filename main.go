package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	grpcapi "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/redis"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

const presenceRoutingKey = "presence_events.realtime"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat-realtime:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).
		With("service", cfg.ServiceName, "env", cfg.Environment)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database, err := db.Connect(ctx, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, "audit.realtime", cfg.ServiceName, cfg.Environment, log)

	authenticator, closeAuth, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	defer closeAuth()

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	sessions := realtime.NewSessionRegistry()
	presence := realtime.NewPresenceTracker()
	board := realtime.NewSwitchboard(log)
	typing := realtime.NewTypingTracker(cfg.TypingTTL)
	relay := realtime.NewRelay(sessions, board, chatRepo, cfg.RelayDedupWindow, log)
	ctrl := realtime.NewController(sessions, presence, realtime.NewRoomManager(), typing, relay, board, messageRepo, log)

	events := newPresenceEvents(256, log)
	presence.Observe(events.Observe)
	go events.Run(ctx)

	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		mirror := redis.NewPresenceMirror(client, redis.DefaultPresenceKey, 256, log)
		presence.Observe(mirror.Observe)
		go mirror.Run(ctx)
		log.Info("presence mirror enabled", "key", redis.DefaultPresenceKey)
	}

	wsOpts := ws.Options{
		SendQueueSize:  cfg.SendQueueSize,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		MaxMessageSize: cfg.MaxMessageSize,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	router := newRouter(cfg, routerDeps{
		chats:         handlers.NewChatHandler(chatRepo, log),
		messages:      handlers.NewMessageHandler(messageRepo, chatRepo, relay, ctrl, audit, log),
		socket:        ws.NewHandler(ctrl, authenticator, wsOpts, log),
		authenticator: authenticator,
		presence:      ctrl,
		audit:         audit,
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpcapi.NewServer(grpcapi.NewRealtimeServer(ctrl, relay, messageRepo, log))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server listening", "port", cfg.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		stop()
	}

	// Websockets are hijacked, so http.Server.Shutdown does not wait for
	// them; close them explicitly first.
	ctrl.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	return nil
}

func newAuthenticator(cfg config.Config) (auth.Authenticator, func(), error) {
	if cfg.AuthGRPCAddr == "" {
		return auth.NewJWTAuthenticator(cfg.JWTSecret), func() {}, nil
	}
	conn, err := grpcapi.DialAuth(cfg.AuthGRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial auth service: %w", err)
	}
	return grpcapi.NewAuthClient(conn), func() { _ = conn.Close() }, nil
}

type routerDeps struct {
	chats         *handlers.ChatHandler
	messages      *handlers.MessageHandler
	socket        *ws.Handler
	authenticator auth.Authenticator
	presence      handlers.PresenceSource
	audit         *telemetry.AuditEmitter
}

func newRouter(cfg config.Config, d routerDeps) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", d.socket.Handle)

	api := router.Group("/api")
	api.GET("/health", handlers.Health)

	authed := api.Group("", middleware.AuthMiddleware(d.authenticator))
	authed.GET("/chats", d.chats.ListChats)
	authed.POST("/chats", d.chats.AccessChat)
	authed.POST("/chats/group", d.chats.CreateGroupChat)
	authed.PUT("/chats/:chatId/rename", d.chats.RenameGroup)
	authed.PUT("/chats/:chatId/add", d.chats.AddToGroup)
	authed.PUT("/chats/:chatId/remove", d.chats.RemoveFromGroup)

	authed.POST("/messages", d.messages.SendMessage)
	authed.GET("/messages/:chatId", d.messages.GetMessages)
	authed.PUT("/messages/:chatId/read", d.messages.MarkRead)
	authed.DELETE("/messages/:messageId", d.messages.DeleteMessage)

	authed.GET("/presence/online", handlers.OnlineUsers(d.presence))
	handlers.RegisterDebugRoutes(authed, d.audit, cfg.DebugRoutes)

	return router
}

// presenceEvents publishes presence edges to the event bus off the
// caller's goroutine, in the order they happened.
type presenceEvents struct {
	changes chan realtime.PresenceChange
	log     *slog.Logger
}

func newPresenceEvents(buffer int, log *slog.Logger) *presenceEvents {
	return &presenceEvents{
		changes: make(chan realtime.PresenceChange, buffer),
		log:     log.With("component", "presence_events"),
	}
}

func (p *presenceEvents) Observe(change realtime.PresenceChange) {
	select {
	case p.changes <- change:
	default:
		p.log.Warn("presence event queue full, dropping", "user_id", change.UserID)
	}
}

func (p *presenceEvents) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-p.changes:
			name := "user_offline"
			if change.Online {
				name = "user_online"
			}
			err := observability.PublishEvent(ctx, presenceRoutingKey, observability.EventEnvelope{
				EventType: observability.EventTypePresence,
				EventName: name,
				Payload: map[string]any{
					"user_id": change.UserID,
					"at":      change.At.UTC().Format(time.RFC3339Nano),
				},
			}, nil)
			if err != nil {
				p.log.Warn("publish presence event failed", "user_id", change.UserID, "error", err)
			}
		}
	}
}
