package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client talks to the Node WhatsApp connector. The connector owns the
// actual WhatsApp session; this client never queues, a send either lands
// on the session or fails.
type Client struct {
	config *Config
	client *fasthttp.Client
}

func NewClient(config *Config) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("connector base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}

	return &Client{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}, nil
}

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// SendMessage posts one text message through the connector. Transport
// errors retry with a delay; a connector-level rejection does not, the
// session will not recover between attempts.
func (c *Client) SendMessage(ctx context.Context, to, content string) (*model.ConnectorSendResult, error) {
	reqBody, err := json.Marshal(sendMessageRequest{
		To:      to,
		Message: content,
		Type:    "text",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		started := time.Now()
		body, err := c.doRequest(ctx, "POST", "/send-message", reqBody)
		if err != nil {
			logger.Warn("connector request failed",
				"error", err,
				"attempt", attempt+1,
				"latency_ms", time.Since(started).Milliseconds(),
			)
			lastErr = err
			continue
		}

		var result model.ConnectorSendResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return &result, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Status reads the connector's session state.
func (c *Client) Status(ctx context.Context) (*model.ConnectorStatus, error) {
	body, err := c.doRequest(ctx, "GET", "/status", nil)
	if err != nil {
		return nil, err
	}

	var status model.ConnectorStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &status, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
