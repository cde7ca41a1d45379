package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/events"
	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/prom"
	"github.com/budbot/whatsapp-gateway/pkg/redis"
	"github.com/budbot/whatsapp-gateway/pkg/worker"
)

const (
	TrackingTimeout = 5 * time.Second
	HealthInterval  = 30 * time.Second
	ShutdownTimeout = time.Minute

	leadCounterPrefix = "engagement:lead:"
)

// Tracker consumes stored inbound messages off the stream and maintains
// per-lead engagement counters in redis. Counters are approximate under
// redelivery; the idempotency marker keeps the common case exact.
type Tracker struct {
	adapter     redis.RedisAdapter
	buses       []*events.Bus
	idempotency *IdempotencyService
	worker      *worker.WorkerManager
	busConfig   events.Config
	consumers   int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewTracker(adapter redis.RedisAdapter, busConfig events.Config, consumers, workers int) *Tracker {
	if consumers <= 0 {
		consumers = 2
	}
	if workers <= 0 {
		workers = 20
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Tracker{
		adapter:     adapter,
		idempotency: NewIdempotencyService(adapter, DefaultIdempotencyConfig()),
		worker:      worker.NewWorkerManager(10_000, workers, nil),
		busConfig:   busConfig,
		consumers:   consumers,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (t *Tracker) Start() error {
	logger.Info("starting engagement tracker")

	t.worker.SetWorker(t.workerHandler)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.worker.Start(); err != nil {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < t.consumers; i++ {
		cfg := t.busConfig
		cfg.Consumer = fmt.Sprintf("%s-instance-%d", cfg.Consumer, i)

		bus, err := events.NewBus(t.adapter, cfg)
		if err != nil {
			return fmt.Errorf("create consumer %d: %w", i, err)
		}
		if err := bus.Consume(t.deliveryHandler); err != nil {
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		t.buses = append(t.buses, bus)
	}

	t.wg.Add(1)
	go t.healthChecker()

	logger.Info("engagement tracker started", "consumers", len(t.buses))
	return nil
}

type trackJob struct {
	delivery   *events.Delivery
	resultChan chan error
	ctx        context.Context
}

// deliveryHandler hands the delivery to the worker pool and waits for the
// outcome so the bus can ack or retry it.
func (t *Tracker) deliveryHandler(ctx context.Context, d *events.Delivery) error {
	resultChan := make(chan error, 1)

	jobCtx, cancel := context.WithTimeout(ctx, TrackingTimeout+time.Second)
	defer cancel()

	t.worker.Enqueue(&trackJob{
		delivery:   d,
		resultChan: resultChan,
		ctx:        jobCtx,
	})

	select {
	case err := <-resultChan:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("timeout waiting for tracking worker: %w", jobCtx.Err())
	}
}

func (t *Tracker) workerHandler(workerIndex int, job interface{}) {
	tj, ok := job.(*trackJob)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-tj.ctx.Done():
		return
	default:
	}

	start := time.Now()
	err := t.track(tj.ctx, tj.delivery)
	if err != nil {
		prom.IncCounterVec(prom.SystemTracker, prom.MetricTrackerEventsTotal, "error")
	} else {
		prom.IncCounterVec(prom.SystemTracker, prom.MetricTrackerEventsTotal, "ok")
		prom.AddHistogram(prom.SystemTracker, prom.MetricTrackerProcessedDuration, time.Since(start).Seconds())
	}

	select {
	case tj.resultChan <- err:
	case <-tj.ctx.Done():
	}
}

// track applies one stored message to the lead's counters exactly once.
func (t *Tracker) track(ctx context.Context, d *events.Delivery) error {
	var msg model.Message
	if err := json.Unmarshal(d.Data, &msg); err != nil {
		logger.Error("undecodable stream entry", "entry_id", d.ID, "error", err)
		// retrying cannot fix the payload
		return nil
	}
	if msg.ID == 0 || msg.LeadID == 0 {
		logger.Warn("stream entry without ids", "entry_id", d.ID)
		return nil
	}

	messageID := strconv.FormatInt(msg.ID, 10)

	tc, err := t.idempotency.AcquireLock(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrAlreadyTracked) {
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("giving up on stream entry", "message_id", messageID)
			return nil
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("lock held by another consumer")
		}
		return err
	}
	defer t.idempotency.ReleaseLock(ctx, tc)

	if err := t.bumpCounters(msg); err != nil {
		_ = t.idempotency.MarkFailed(ctx, tc, err)
		return err
	}

	if err := t.idempotency.MarkTracked(ctx, tc); err != nil {
		logger.Error("tracked marker write failed", "message_id", messageID, "error", err)
	}

	logger.Debug("engagement tracked", "lead_id", msg.LeadID, "message_id", msg.ID)
	return nil
}

func (t *Tracker) bumpCounters(msg model.Message) error {
	key := leadCounterPrefix + strconv.FormatInt(msg.LeadID, 10)

	if err := t.adapter.HIncrement(key, "messages", 1); err != nil {
		return fmt.Errorf("increment message counter: %w", err)
	}
	field := "type:" + string(msg.MessageType)
	if msg.MessageType == "" {
		field = "type:unknown"
	}
	if err := t.adapter.HIncrement(key, field, 1); err != nil {
		return fmt.Errorf("increment type counter: %w", err)
	}
	return nil
}

// LeadCounters reads the engagement hash for one lead.
func (t *Tracker) LeadCounters(leadID int64) (map[string]string, error) {
	return t.adapter.HGetAll(leadCounterPrefix + strconv.FormatInt(leadID, 10))
}

func (t *Tracker) healthChecker() {
	defer t.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.checkHealth()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Tracker) checkHealth() {
	if err := t.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}

	for i, bus := range t.buses {
		stats, err := bus.GetStats()
		if err != nil {
			logger.Warn("stream stats unavailable", "consumer", i, "error", err)
			continue
		}
		if stats.PendingEntries > 10000 {
			logger.Warn("stream lag is high", "consumer", i, "pending", stats.PendingEntries)
		}
	}
}

func (t *Tracker) Stop() {
	logger.Info("shutting down engagement tracker")

	t.cancel()

	stopChan := make(chan bool, len(t.buses))
	for i, bus := range t.buses {
		go func(index int, b *events.Bus) {
			if err := b.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping consumer", "consumer", index, "error", err)
			}
			stopChan <- true
		}(i, bus)
	}
	for range t.buses {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout + 5*time.Second):
			logger.Warn("timeout waiting for consumers to stop")
		}
	}

	t.worker.Exit()
	t.wg.Wait()

	logger.Info("engagement tracker stopped")
}
