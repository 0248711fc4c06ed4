package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/services"
)

// DeadLetterQueue collects usage records that could not be stored after
// maxAttempts tries.
const DeadLetterQueue = services.UsageQueue + ":failed"

const maxAttempts = 3

type UsageStore interface {
	Create(ctx context.Context, rec *models.UsageRecord) error
}

// Pool drains the usage-record queue filled by credit deductions and
// persists each record.
type Pool struct {
	redis       *redis.Client
	usage       UsageStore
	logger      *zap.Logger
	workerCount int
	pollTimeout time.Duration
	retryBase   time.Duration
	stopChan    chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewPool(redisClient *redis.Client, usage UsageStore, workerCount int, logger *zap.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		usage:       usage,
		logger:      logger.Named("worker"),
		workerCount: workerCount,
		pollTimeout: 5 * time.Second,
		retryBase:   time.Second,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("started usage workers", zap.Int("count", p.workerCount))
}

// Stop signals the workers and waits for in-flight records to finish.
func (p *Pool) Stop() {
	close(p.stopChan)
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-p.stopChan:
			log.Debug("worker shutting down")
			return
		default:
		}

		result, err := p.redis.BLPop(ctx, p.pollTimeout, services.UsageQueue).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.Warn("failed to pop usage record", zap.Error(err))
				time.Sleep(p.retryBase)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var rec models.UsageRecord
		if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
			log.Error("dropping malformed usage record", zap.String("payload", result[1]), zap.Error(err))
			continue
		}

		// Detached so a shutdown does not abort a half-written record.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err = p.usage.Create(writeCtx, &rec)
		cancel()
		if err != nil {
			p.handleFailure(&rec, err)
			continue
		}

		log.Debug("stored usage record",
			zap.String("id", rec.ID.String()),
			zap.String("user_id", rec.UserID.String()))
	}
}

func (p *Pool) handleFailure(rec *models.UsageRecord, err error) {
	rec.Attempts++
	data, _ := json.Marshal(rec)

	if rec.Attempts < maxAttempts {
		backoff := p.retryDelay(rec.Attempts)
		p.logger.Warn("failed to store usage record, retrying",
			zap.String("id", rec.ID.String()),
			zap.Int("attempt", rec.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		time.AfterFunc(backoff, func() {
			if pushErr := p.redis.LPush(context.Background(), services.UsageQueue, string(data)).Err(); pushErr != nil {
				p.logger.Error("failed to requeue usage record", zap.String("id", rec.ID.String()), zap.Error(pushErr))
			}
		})
		return
	}

	p.logger.Error("usage record failed permanently",
		zap.String("id", rec.ID.String()),
		zap.String("user_id", rec.UserID.String()),
		zap.Error(err))
	if pushErr := p.redis.LPush(context.Background(), DeadLetterQueue, string(data)).Err(); pushErr != nil {
		p.logger.Error("failed to dead-letter usage record", zap.String("id", rec.ID.String()), zap.Error(pushErr))
	}
}

// retryDelay doubles from retryBase: one retryBase after the first failure.
func (p *Pool) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<uint(attempts-1)) * p.retryBase
}
