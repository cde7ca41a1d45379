package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/config"
	"github.com/budbot/whatsapp-gateway/internal/events"
	gateway "github.com/budbot/whatsapp-gateway/internal/gateways"
	"github.com/budbot/whatsapp-gateway/internal/handlers"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	"github.com/budbot/whatsapp-gateway/internal/services"
	xhttp "github.com/budbot/whatsapp-gateway/pkg/http"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/pg"
	"github.com/budbot/whatsapp-gateway/pkg/prom"
	"github.com/budbot/whatsapp-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	displayLoc, err := time.LoadLocation(config.Get().DisplayTimezone)
	if err != nil {
		logger.Error("invalid display timezone", "tz", config.Get().DisplayTimezone, "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	bus, err := events.NewBus(redisAdap, events.Config{
		Stream:            config.Get().StreamName,
		Group:             config.Get().StreamConsumerGroup,
		Consumer:          config.Get().StreamConsumerName,
		MaxRetries:        config.Get().StreamMaxRetries,
		VisibilityTimeout: config.Get().StreamVisibilityTimeout,
		PollInterval:      config.Get().StreamPollInterval,
		BatchSize:         config.Get().StreamBatchSize,
		MaxLen:            config.Get().StreamMaxLen,
		EnableDLQ:         config.Get().StreamEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating event bus", "error", err)
		return
	}

	connector, err := gateway.NewClient(&gateway.Config{
		BaseURL:    config.Get().ConnectorBaseUrl,
		Timeout:    time.Duration(config.Get().ConnectorTimeout) * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: time.Millisecond * 200,
	})
	if err != nil {
		logger.Error("failed to create connector client", "error", err)
		return
	}

	leadRepo := repository.NewLeadRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// services
	inboxService := services.NewInboxService(leadRepo, messageRepo, bus, displayLoc)
	outboundService := services.NewOutboundService(leadRepo, messageRepo, connector, config.Get().AgentLabel)
	healthService := services.NewHealthService(db, leadRepo, messageRepo)

	// handlers
	webhookHandler := handlers.NewWebhookHandler(inboxService, config.Get().WebhookToken, displayLoc)
	healthHandler := handlers.NewHealthHandler(healthService, displayLoc)
	leadHandler := handlers.NewLeadHandler(inboxService)
	messageHandler := handlers.NewMessageHandler(outboundService)

	g := s.Router.Group("/api/whatsapp")
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)
	handlers.RegisterLeadRoutes(g, leadHandler)
	handlers.RegisterMessageRoutes(g, messageHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	if config.Get().AppDebugMetricsAddr != "" {
		go func() {
			prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
