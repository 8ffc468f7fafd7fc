package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// ChangePublisher 推送行变更，由 realtime.ChangeFeed 实现
type ChangePublisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// ChangeRelay 轮询 outbox，把已提交的变更推到 changes:<table> 频道。
// 单 worker 时同一张表的事件按提交顺序送达。
type ChangeRelay struct {
	outbox       repository.OutboxRepository
	publisher    ChangePublisher
	claimLimit   int
	pollInterval time.Duration
	workers      int
	metricsCh    chan time.Duration // outbox->published latency
}

func NewChangeRelay(outbox repository.OutboxRepository, publisher ChangePublisher, workers, claimLimit int, pollInterval time.Duration) *ChangeRelay {
	if workers <= 0 {
		workers = 1
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &ChangeRelay{
		outbox:       outbox,
		publisher:    publisher,
		workers:      workers,
		claimLimit:   claimLimit,
		pollInterval: pollInterval,
		metricsCh:    make(chan time.Duration, 65536),
	}
}

func (r *ChangeRelay) Metrics() <-chan time.Duration { return r.metricsCh }

// Start 启动若干 worker 轮询 outbox；返回停止函数。
func (r *ChangeRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *ChangeRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// 一次认领满额说明还有积压，立即继续
			for {
				n, err := r.ProcessOnce(context.Background())
				if err != nil {
					logger.Warn("change relay pass failed", zap.Error(err))
				}
				if err != nil || n < r.claimLimit {
					break
				}
			}
		}
	}
}

// ProcessOnce 认领一批 pending 事件并推送，返回认领条数。
// 推送失败的事件放回 pending，下一轮重试。
func (r *ChangeRelay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Claim(ctx, r.claimLimit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	done := make([]string, 0, len(batch))
	var failed []string
	for _, ob := range batch {
		ev := model.ChangeEvent{Table: ob.Table, Op: ob.Op, RowID: ob.RowID, At: ob.CreatedAt}
		if ob.Payload != "" {
			if err := json.Unmarshal([]byte(ob.Payload), &ev.Row); err != nil {
				// 坏数据重试也不会成功
				logger.Error("drop undecodable outbox row", zap.String("id", ob.ID), zap.Error(err))
				done = append(done, ob.ID)
				continue
			}
		}
		if err := r.publisher.Publish(ctx, ev); err != nil {
			logger.Warn("publish change failed", zap.String("table", ob.Table), zap.String("row", ob.RowID), zap.Error(err))
			failed = append(failed, ob.ID)
			continue
		}
		done = append(done, ob.ID)
		if !ob.CreatedAt.IsZero() {
			select {
			case r.metricsCh <- time.Since(ob.CreatedAt):
			default:
			}
		}
	}

	if len(failed) > 0 {
		if err := r.outbox.Release(ctx, failed); err != nil {
			return len(batch), err
		}
	}
	if len(done) > 0 {
		if err := r.outbox.MarkDone(ctx, done); err != nil {
			return len(batch), err
		}
	}
	return len(batch), nil
}
