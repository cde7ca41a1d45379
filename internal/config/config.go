package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every environment-sourced value the gateway uses. Only this
// struct should be consulted for configuration; no direct env access
// anywhere else.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"whatsapp_gateway"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	// Shared secret the connector presents on every webhook call. The
	// default mirrors what the legacy deployment shipped with; override it
	// in any real environment.
	WebhookToken string `env:"WEBHOOK_TOKEN" default:"budbot_webhook_secret_2025"`

	// Timezone used for every timestamp the gateway reports or stores.
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" default:"America/Sao_Paulo"`

	// Base URL of the WhatsApp connector service (outbound sends, status).
	ConnectorBaseUrl string `env:"CONNECTOR_BASE_URL" default:"http://localhost:3000"`
	ConnectorTimeout int    `env:"CONNECTOR_TIMEOUT_MS" default:"10000"`

	// Label recorded as the sender of outbound messages.
	AgentLabel string `env:"AGENT_LABEL" default:"BudBot"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	StreamName              string        `env:"STREAM_NAME" default:"whatsapp:inbound"`
	StreamConsumerGroup     string        `env:"STREAM_CONSUMER_GROUP" default:"tracker"`
	StreamConsumerName      string        `env:"STREAM_CONSUMER_NAME"`
	StreamMaxRetries        int           `env:"STREAM_MAX_RETRIES"`
	StreamVisibilityTimeout time.Duration `env:"STREAM_VISIBILITY_TIMEOUT"`
	StreamPollInterval      time.Duration `env:"STREAM_POLL_INTERVAL"`
	StreamBatchSize         int64         `env:"STREAM_BATCH_SIZE"`
	StreamMaxLen            int64         `env:"STREAM_MAX_LEN"`
	StreamEnableDLQ         bool          `env:"STREAM_ENABLE_DLQ"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
