package realtime

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultSubscribeTimeout = 5 * time.Second
)

// RedisSource 基于 redis pub/sub 频道的事件源。
// 不使用 PubSub.Channel()：它会静默重连，掩盖失活；这里连接错误直接结束流。
type RedisSource struct {
	Client           *redis.Client
	Channel          string
	PingInterval     time.Duration
	SubscribeTimeout time.Duration

	// OnOpen 订阅确认后调用一次，可产出初始事件（快照）。
	OnOpen func(ctx context.Context) (Event, bool)
	// OnMessage 把频道消息转换为事件；返回 false 表示过滤掉。
	OnMessage func(ctx context.Context, payload string) (Event, bool)
}

func (s *RedisSource) Open(ctx context.Context) (Stream, error) {
	ps := s.Client.Subscribe(ctx, s.Channel)

	timeout := s.SubscribeTimeout
	if timeout <= 0 {
		timeout = defaultSubscribeTimeout
	}
	msg, err := ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, errors.New("unexpected reply while subscribing")
	}

	stream := NewChanStream(16, ps.Close)
	go s.pump(ps, stream)
	return stream, nil
}

func (s *RedisSource) pump(ps *redis.PubSub, stream *ChanStream) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stream.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.OnOpen != nil {
		if ev, ok := s.OnOpen(ctx); ok {
			stream.Send(ev)
		}
	}

	ping := s.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}

	for {
		msg, err := ps.ReceiveTimeout(ctx, ping)
		if err != nil {
			if ctx.Err() != nil {
				stream.Finish(nil)
				return
			}
			if isTimeout(err) {
				if err := ps.Ping(ctx); err != nil {
					stream.Finish(err)
					return
				}
				continue
			}
			stream.Finish(err)
			return
		}

		switch m := msg.(type) {
		case *redis.Pong:
			stream.Send(Event{Type: EventHeartbeat})
		case *redis.Message:
			if s.OnMessage == nil {
				continue
			}
			if ev, ok := s.OnMessage(ctx, m.Payload); ok {
				stream.Send(ev)
			}
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
