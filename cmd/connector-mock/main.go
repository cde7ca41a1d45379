package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionState mirrors the states the Node connector moves through.
type SessionState string

const (
	StateConnected    SessionState = "CONNECTED"
	StateQRPending    SessionState = "QR_PENDING"
	StateDisconnected SessionState = "DISCONNECTED"
)

// SendMessageRequest is the payload the gateway posts to /send-message.
type SendMessageRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
	Type    string `json:"type"`
}

// SendMessageResponse is the connector's reply to a send.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse reports the simulated WhatsApp session.
type StatusResponse struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	Uptime     int64  `json:"uptime"`
}

// MockConnector simulates the Node WhatsApp connector service.
type MockConnector struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	sessionID    string
	state        SessionState
	retryCount   int
	startedAt    time.Time
	rng          *rand.Rand
}

func NewMockConnector(deliveryRate float64, minDelay, maxDelay time.Duration) *MockConnector {
	return &MockConnector{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		sessionID:    "mock-" + uuid.New().String()[:8],
		state:        StateConnected,
		startedAt:    time.Now(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// simulateSend applies a random session delay and flips a weighted coin
// for delivery, the way a flaky real session behaves.
func (m *MockConnector) simulateSend(req *SendMessageRequest) *SendMessageResponse {
	time.Sleep(m.randomDelay())

	if m.state != StateConnected {
		return &SendMessageResponse{
			Success: false,
			Error:   "session not connected",
		}
	}

	if m.rng.Float64() >= m.deliveryRate {
		code := m.randomError()
		log.Warn().
			Str("to", req.To).
			Str("error", code).
			Msg("Message delivery failed")
		return &SendMessageResponse{
			Success: false,
			Error:   code,
		}
	}

	id := fmt.Sprintf("true_%s@c.us_%s", req.To, uuid.New().String()[:12])
	log.Info().
		Str("to", req.To).
		Str("message_id", id).
		Msg("Message delivered")

	return &SendMessageResponse{
		Success:   true,
		MessageID: id,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (m *MockConnector) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockConnector) randomError() string {
	errors := []string{
		"recipient not on whatsapp",
		"message send timed out",
		"rate limited by whatsapp",
		"media upload rejected",
	}
	return errors[m.rng.Intn(len(errors))]
}

type Handler struct {
	connector *MockConnector
}

func NewHandler(connector *MockConnector) *Handler {
	return &Handler{connector: connector}
}

// SendMessage handles the gateway's outbound sends.
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("to", req.To).
		Str("type", req.Type).
		Msg("Received send request")

	c.JSON(http.StatusOK, h.connector.simulateSend(&req))
}

// GetStatus reports the simulated session state.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Connected:  h.connector.state == StateConnected,
		State:      string(h.connector.state),
		RetryCount: h.connector.retryCount,
		Uptime:     int64(time.Since(h.connector.startedAt).Seconds()),
	})
}

// UpdateConfig changes the simulated session at runtime, so failure
// paths in the gateway can be exercised without restarting anything.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
		State        *string  `json:"state"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.connector.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
		}
	}

	if config.State != nil {
		switch SessionState(*config.State) {
		case StateConnected, StateQRPending, StateDisconnected:
			h.connector.state = SessionState(*config.State)
			if h.connector.state == StateDisconnected {
				h.connector.retryCount++
			}
			log.Info().Str("state", *config.State).Msg("Updated session state")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"delivery_rate": h.connector.deliveryRate,
		"state":         h.connector.state,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.POST("/send-message", handler.SendMessage)
	router.GET("/status", handler.GetStatus)
	router.PUT("/config", handler.UpdateConfig)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "3000")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock WhatsApp connector")

	connector := NewMockConnector(deliveryRate, minDelay, maxDelay)
	log.Info().Str("session_id", connector.sessionID).Msg("Session initialised")
	handler := NewHandler(connector)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
