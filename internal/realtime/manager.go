package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/vinylfeed/internal/apperr"
	"github.com/d60-Lab/vinylfeed/pkg/logger"
)

// Key 标识一个订阅：同一 (Scope, Viewer) 同时只允许一个非终态通道。
type Key struct {
	Scope  string
	Viewer string
}

func (k Key) String() string { return k.Scope + "@" + k.Viewer }

// Handler 串行处理事件。ctx 在取消订阅时被取消。
// Handler 内部不能同步调用同一个 Handle 的 Unsubscribe。
type Handler func(ctx context.Context, ev Event)

type subOptions struct {
	liveness time.Duration
	onLost   func(error)
	onState  func(State)
}

type Option func(*subOptions)

// WithLivenessTimeout 超过 d 没有任何事件（含心跳）即视为失活，进入 TIMED_OUT。
func WithLivenessTimeout(d time.Duration) Option {
	return func(o *subOptions) { o.liveness = d }
}

// WithOnLost 通道进入 ERROR/TIMED_OUT 时回调，错误包装 ErrSubscriptionLost。不会自动重连。
func WithOnLost(fn func(error)) Option {
	return func(o *subOptions) { o.onLost = fn }
}

// WithOnState 每次状态变化回调
func WithOnState(fn func(State)) Option {
	return func(o *subOptions) { o.onState = fn }
}

// Manager 持有所有订阅句柄
type Manager struct {
	liveness time.Duration

	mu      sync.Mutex
	handles map[Key]*Handle
}

func NewManager(defaultLiveness time.Duration) *Manager {
	return &Manager{liveness: defaultLiveness, handles: make(map[Key]*Handle)}
}

// Subscribe 为 key 打开订阅。若已有 CONNECTING/ACTIVE 句柄则直接返回它，不会建立第二条流。
func (m *Manager) Subscribe(ctx context.Context, key Key, src Source, h Handler, opts ...Option) (*Handle, error) {
	o := subOptions{liveness: m.liveness}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	if existing, ok := m.handles[key]; ok && !existing.State().Terminal() {
		m.mu.Unlock()
		return existing, nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	hd := &Handle{
		key:     key,
		manager: m,
		state:   StateConnecting,
		cancel:  cancel,
		done:    make(chan struct{}),
		onLost:  o.onLost,
		onState: o.onState,
	}
	m.handles[key] = hd
	m.mu.Unlock()

	stream, err := src.Open(ctx)
	if err != nil {
		hd.fail(StateError, err)
		close(hd.done)
		return hd, fmt.Errorf("subscribe %s: %w: %v", key, apperr.ErrSubscriptionLost, err)
	}

	if !hd.activate(stream) {
		// 打开过程中已被取消订阅
		_ = stream.Close()
		close(hd.done)
		return hd, nil
	}
	logger.Info("subscription active", zap.String("key", key.String()))

	go hd.run(runCtx, stream, h, o.liveness)
	return hd, nil
}

// Get 返回 key 当前的句柄
func (m *Manager) Get(key Key) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[key]
	return h, ok
}

// Len 当前登记的句柄数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// CloseScope 取消某个 scope 下所有 viewer 的订阅
func (m *Manager) CloseScope(scope string) {
	for _, h := range m.collect(func(k Key) bool { return k.Scope == scope }) {
		h.Unsubscribe()
	}
}

// CloseViewer 取消某个 viewer 的全部订阅（登出、切换账号）
func (m *Manager) CloseViewer(viewer string) {
	for _, h := range m.collect(func(k Key) bool { return k.Viewer == viewer }) {
		h.Unsubscribe()
	}
}

// Close 取消全部订阅
func (m *Manager) Close() {
	for _, h := range m.collect(func(Key) bool { return true }) {
		h.Unsubscribe()
	}
}

func (m *Manager) collect(match func(Key) bool) []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Handle
	for k, h := range m.handles {
		if match(k) {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager) forget(h *Handle) {
	m.mu.Lock()
	if cur, ok := m.handles[h.key]; ok && cur == h {
		delete(m.handles, h.key)
	}
	m.mu.Unlock()
}

// Handle 单个订阅的取消能力与状态
type Handle struct {
	key     Key
	manager *Manager
	cancel  context.CancelFunc
	done    chan struct{}
	onLost  func(error)
	onState func(State)

	mu     sync.Mutex
	state  State
	err    error
	stream Stream

	unsubOnce sync.Once
}

func (h *Handle) Key() Key { return h.key }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err 终态原因（CLOSED 为 nil）
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done 在投递协程退出后关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Unsubscribe 幂等；返回后不会再有 Handler 被调用。
func (h *Handle) Unsubscribe() {
	h.unsubOnce.Do(func() {
		h.mu.Lock()
		changed := canTransition(h.state, StateClosed)
		if changed {
			h.state = StateClosed
			h.err = nil
		}
		stream := h.stream
		h.mu.Unlock()

		h.cancel()
		if stream != nil {
			_ = stream.Close()
		}
		h.manager.forget(h)
		<-h.done

		if changed {
			h.notifyState(StateClosed)
			logger.Info("subscription closed", zap.String("key", h.key.String()))
		}
	})
}

func (h *Handle) activate(stream Stream) bool {
	h.mu.Lock()
	if !canTransition(h.state, StateActive) {
		h.mu.Unlock()
		return false
	}
	h.state = StateActive
	h.stream = stream
	h.mu.Unlock()
	h.notifyState(StateActive)
	return true
}

func (h *Handle) fail(to State, cause error) {
	h.mu.Lock()
	if !canTransition(h.state, to) {
		h.mu.Unlock()
		return
	}
	h.state = to
	h.err = fmt.Errorf("%w: %s: %v", apperr.ErrSubscriptionLost, to, cause)
	err := h.err
	stream := h.stream
	h.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	h.cancel()
	h.manager.forget(h)
	logger.Error("subscription lost", zap.String("key", h.key.String()), zap.Stringer("state", to), zap.Error(cause))
	h.notifyState(to)
	if h.onLost != nil {
		h.onLost(err)
	}
}

func (h *Handle) notifyState(s State) {
	if h.onState != nil {
		h.onState(s)
	}
}

var errLivenessTimeout = errors.New("no events within liveness timeout")

func (h *Handle) run(ctx context.Context, stream Stream, handler Handler, liveness time.Duration) {
	defer close(h.done)

	var timeout <-chan time.Time
	var timer *time.Timer
	if liveness > 0 {
		timer = time.NewTimer(liveness)
		defer timer.Stop()
		timeout = timer.C
	}

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			h.fail(StateTimedOut, errLivenessTimeout)
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				cause := stream.Err()
				if cause == nil {
					cause = errors.New("stream ended")
				}
				h.fail(StateTimedOut, cause)
				return
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(liveness)
			}
			if ev.Type == EventHeartbeat || ctx.Err() != nil {
				continue
			}
			handler(ctx, ev)
		}
	}
}

// Reload 把任意变更转成一次整页重载。派生/联表视图不做局部 patch。
func Reload(reload func(ctx context.Context) error) Handler {
	return func(ctx context.Context, ev Event) {
		if err := reload(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("reload after change failed", zap.Error(err))
		}
	}
}
