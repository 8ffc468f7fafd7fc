// Package realtime 管理实时订阅的生命周期：每个 (scope, viewer) 至多一个活跃通道，
// 事件串行投递，取消订阅幂等且同步。
package realtime

// State 订阅通道状态
type State int

const (
	StateConnecting State = iota
	StateActive
	StateError
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Terminal 终态不会再投递事件
func (s State) Terminal() bool {
	return s == StateError || s == StateTimedOut || s == StateClosed
}

// canTransition: CONNECTING→ACTIVE|ERROR, ACTIVE→TIMED_OUT, 任意→CLOSED
func canTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == StateClosed {
		return from != StateClosed
	}
	switch from {
	case StateConnecting:
		return to == StateActive || to == StateError
	case StateActive:
		return to == StateTimedOut
	default:
		return false
	}
}
