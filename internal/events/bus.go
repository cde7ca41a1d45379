package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/redis"
)

// Delivery is one stream entry handed to a consumer. A delivery that is
// not acked stays pending and gets reclaimed after the visibility timeout.
type Delivery struct {
	ID        string
	Data      []byte
	Timestamp time.Time
	Attempts  int
}

// Handler processes one delivery. A nil return acks the entry; an error
// leaves it pending for retry.
type Handler func(ctx context.Context, d *Delivery) error

type Config struct {
	Stream            string
	Group             string
	Consumer          string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Bus fans stored inbound messages out to downstream consumers over a
// redis stream with a consumer group.
type Bus struct {
	adapter redis.RedisAdapter
	cfg     Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBus(adapter redis.RedisAdapter, cfg Config) (*Bus, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if cfg.Group == "" {
		cfg.Group = "default-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		adapter: adapter,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	// BUSYGROUP on restart is expected
	_ = b.adapter.XGroupCreateMkStream(cfg.Stream, cfg.Group, "0")

	return b, nil
}

func (b *Bus) Publish(ctx context.Context, data []byte) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().Unix(),
	}

	id, err := b.adapter.XAdd(b.cfg.Stream, values)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", b.cfg.Stream, err)
	}

	if b.cfg.MaxLen > 0 {
		_ = b.adapter.XTrimApprox(b.cfg.Stream, b.cfg.MaxLen)
	}

	return id, nil
}

func (b *Bus) PublishJSON(ctx context.Context, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return b.Publish(ctx, data)
}

// Consume starts the poll loop. Entries are acked when the handler
// succeeds; after MaxRetries failed attempts an entry moves to the DLQ
// stream (when enabled) and is acked away.
func (b *Bus) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.handler = handler
	b.wg.Add(1)

	go b.consumeLoop()

	return nil
}

func (b *Bus) consumeLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.readNew()
			b.reclaimStuck()
		}
	}
}

func (b *Bus) readNew() {
	messages, err := b.adapter.XReadGroup(
		b.cfg.Group,
		b.cfg.Consumer,
		b.cfg.Stream,
		">",
		b.cfg.BatchSize,
	)
	if err != nil {
		if err != redis.NilError {
			logger.Warn("stream read failed", "stream", b.cfg.Stream, "error", err)
		}
		return
	}

	for _, m := range messages {
		b.dispatch(toDelivery(m))
	}
}

// reclaimStuck takes over entries another consumer read but never acked
// within the visibility timeout.
func (b *Bus) reclaimStuck() {
	pending, err := b.adapter.XPending(b.cfg.Stream, b.cfg.Group)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := b.adapter.XPendingExt(b.cfg.Stream, b.cfg.Group, "-", "+", 100)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var ids []string
	deliveries := make(map[string]int64, len(pendingExt))
	for _, p := range pendingExt {
		if p.Idle >= b.cfg.VisibilityTimeout {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return
	}

	messages, err := b.adapter.XClaim(b.cfg.Stream, b.cfg.Group, b.cfg.Consumer, b.cfg.VisibilityTimeout, ids...)
	if err != nil {
		return
	}

	for _, m := range messages {
		d := toDelivery(m)
		// the PEL delivery counter is the source of truth for attempts;
		// the stream entry itself never changes
		d.Attempts = int(deliveries[m.ID])
		b.dispatch(d)
	}
}

func (b *Bus) dispatch(d *Delivery) {
	if d.Attempts >= b.cfg.MaxRetries {
		b.deadLetter(d)
		_ = b.ack(d.ID)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.VisibilityTimeout)
	defer cancel()

	if err := b.handler(ctx, d); err != nil {
		// stays pending, reclaimed on a later tick
		return
	}
	_ = b.ack(d.ID)
}

func (b *Bus) ack(id string) error {
	return b.adapter.XAck(b.cfg.Stream, b.cfg.Group, id)
}

func (b *Bus) deadLetter(d *Delivery) {
	if !b.cfg.EnableDLQ {
		return
	}

	_, err := b.adapter.XAdd(b.cfg.Stream+":dlq", map[string]interface{}{
		"data":            string(d.Data),
		"original_id":     d.ID,
		"attempts":        d.Attempts,
		"failed_at":       time.Now().Unix(),
		"original_stream": b.cfg.Stream,
	})
	if err != nil {
		logger.Error("dead letter publish failed", "stream", b.cfg.Stream, "id", d.ID, "error", err)
	}
}

func toDelivery(m redis.StreamMessage) *Delivery {
	d := &Delivery{ID: m.ID}

	for k, v := range m.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "data":
			d.Data = []byte(s)
		case "timestamp":
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				d.Timestamp = time.Unix(unix, 0)
			}
		}
	}

	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	return d
}

// Stop cancels the consume loop and waits for in-flight handlers.
func (b *Bus) Stop(timeout time.Duration) error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for consumer to stop")
	}
}

type Stats struct {
	TotalEntries   int64
	PendingEntries int64
	ConsumerCount  int64
}

func (b *Bus) GetStats() (*Stats, error) {
	total, err := b.adapter.XLen(b.cfg.Stream)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalEntries: total}

	if pending, err := b.adapter.XPending(b.cfg.Stream, b.cfg.Group); err == nil && pending != nil {
		stats.PendingEntries = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	return stats, nil
}
