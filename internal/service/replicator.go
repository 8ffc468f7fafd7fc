package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/repository"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

type replicateAction int

const (
	actionAdd replicateAction = iota + 1
	actionRemove
)

type replicateJob struct {
	action replicateAction
	userID string
	fanID  string
	enqAt  time.Time
}

// EventRecorder 记录通知事件，由 NotificationService 实现
type EventRecorder interface {
	RecordEvent(ctx context.Context, recipientID, actorID string, kind model.NotificationType, subject model.Subject) (*model.Notification, error)
}

// FanReplicator 关注写入后异步冗余粉丝表，并给被关注者发 follow 通知
type FanReplicator struct {
	fanRepo   repository.FanRepository
	notifier  EventRecorder
	ch        chan replicateJob
	metricsCh chan time.Duration
}

func NewFanReplicator(fanRepo repository.FanRepository, notifier EventRecorder, queueSize int) *FanReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &FanReplicator{
		fanRepo:   fanRepo,
		notifier:  notifier,
		ch:        make(chan replicateJob, queueSize),
		metricsCh: make(chan time.Duration, 65536),
	}
}

func (r *FanReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-r.ch:
					r.apply(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 停止后把剩余任务在当前协程里做完
		for {
			select {
			case job := <-r.ch:
				r.apply(job)
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}
	}
}

func (r *FanReplicator) apply(job replicateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch job.action {
	case actionAdd:
		created, err := r.fanRepo.Create(ctx, job.userID, job.fanID)
		if err != nil {
			logger.Warn("replicate fan add failed", zap.String("user", job.userID), zap.String("fan", job.fanID), zap.Error(err))
			break
		}
		if created && r.notifier != nil {
			if _, err := r.notifier.RecordEvent(ctx, job.userID, job.fanID, model.NotificationFollow, model.Subject{}); err != nil {
				logger.Warn("record follow notification failed", zap.String("user", job.userID), zap.Error(err))
			}
		}
	case actionRemove:
		if err := r.fanRepo.Delete(ctx, job.userID, job.fanID); err != nil {
			logger.Warn("replicate fan remove failed", zap.String("user", job.userID), zap.String("fan", job.fanID), zap.Error(err))
		}
	}
	if !job.enqAt.IsZero() {
		select {
		case r.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (r *FanReplicator) EnqueueAdd(userID, fanID string) {
	select {
	case r.ch <- replicateJob{action: actionAdd, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop add", zap.String("user", userID), zap.String("fan", fanID))
	}
}

func (r *FanReplicator) EnqueueRemove(userID, fanID string) {
	select {
	case r.ch <- replicateJob{action: actionRemove, userID: userID, fanID: fanID, enqAt: time.Now()}:
	default:
		logger.Warn("replicator queue full, drop remove", zap.String("user", userID), zap.String("fan", fanID))
	}
}

// Metrics 返回复制落地耗时的只读通道（每处理一条发送一次 duration）。
func (r *FanReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (r *FanReplicator) QueueLen() int { return len(r.ch) }
