package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/budbot/whatsapp-gateway/internal/config"
	"github.com/budbot/whatsapp-gateway/internal/engagement"
	"github.com/budbot/whatsapp-gateway/internal/events"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
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

	tracker := engagement.NewTracker(redisAdap, events.Config{
		Stream:            config.Get().StreamName,
		Group:             config.Get().StreamConsumerGroup,
		Consumer:          config.Get().StreamConsumerName,
		MaxRetries:        config.Get().StreamMaxRetries,
		VisibilityTimeout: config.Get().StreamVisibilityTimeout,
		PollInterval:      config.Get().StreamPollInterval,
		BatchSize:         config.Get().StreamBatchSize,
		MaxLen:            config.Get().StreamMaxLen,
		EnableDLQ:         config.Get().StreamEnableDLQ,
	}, 4, 50)

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

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := tracker.Start(); err != nil {
			logger.Error("failed to start tracker", "error", err)
		}
	}()

	select {
	case <-c:
		tracker.Stop()
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
