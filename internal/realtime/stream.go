package realtime

import (
	"context"
	"sync"

	"github.com/d60-Lab/vinylfeed/internal/model"
)

type EventType int

const (
	EventChange EventType = iota + 1
	EventSnapshot
	EventHeartbeat
	EventWrite
)

// Event 一次推送。Change 用于关系库行变更，Payload 携带快照、写入通知等源特定数据。
type Event struct {
	Type    EventType
	Change  *model.ChangeEvent
	Payload any
}

// Stream 是 Source 打开的实时事件流。Events 关闭即流结束，Err 给出原因（主动 Close 时为 nil）。
type Stream interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Source 打开一个新的事件流；返回错误意味着传输层拒绝（ERROR）。
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// SourceFunc 适配普通函数
type SourceFunc func(ctx context.Context) (Stream, error)

func (f SourceFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// ChanStream 是基于 channel 的 Stream。生产者调用 Send/Finish，消费者调用 Close。
type ChanStream struct {
	events chan Event
	done   chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once
	onClose    func() error

	mu  sync.Mutex
	err error
}

// NewChanStream onClose 在 Close 时调用一次，用来释放底层连接。
func NewChanStream(buffer int, onClose func() error) *ChanStream {
	return &ChanStream{
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *ChanStream) Events() <-chan Event { return s.events }

func (s *ChanStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send 投递事件；流已被 Close 时返回 false。
func (s *ChanStream) Send(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish 由生产者调用，结束流。之后不得再 Send。
func (s *ChanStream) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

// Done 在 Close 后关闭，供生产者感知退出。
func (s *ChanStream) Done() <-chan struct{} { return s.done }

func (s *ChanStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			err = s.onClose()
		}
	})
	return err
}
