package engine

import (
	"sync"
	"time"
)

// LockState 下单锁状态
type LockState string

const (
	LockIdle       LockState = "IDLE"
	LockSubmitting LockState = "SUBMITTING"
)

// Ticket 一次持锁的凭证，释放时必须出示
type Ticket uint64

// InFlightLock 全局只允许一个下单/改单请求在途
//
// 每次获取得到新的 Ticket，Release 只对当前 Ticket 生效，
// 因此看门狗强制释放后迟到的结果不会误释放下一次持锁。
type InFlightLock struct {
	mu       sync.Mutex
	state    LockState
	ticket   Ticket
	seq      Ticket
	reason   string
	since    time.Time
	timeout  time.Duration
	timer    *time.Timer
	onForced func(reason string, held time.Duration)
}

// NewInFlightLock timeout<=0 时不启用看门狗
func NewInFlightLock(timeout time.Duration, onForced func(reason string, held time.Duration)) *InFlightLock {
	return &InFlightLock{
		state:    LockIdle,
		timeout:  timeout,
		onForced: onForced,
	}
}

// TryAcquire IDLE -> SUBMITTING
func (l *InFlightLock) TryAcquire(reason string) (Ticket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LockSubmitting {
		return 0, false
	}
	l.seq++
	l.ticket = l.seq
	l.state = LockSubmitting
	l.reason = reason
	l.since = time.Now()

	if l.timeout > 0 {
		ticket := l.ticket
		l.timer = time.AfterFunc(l.timeout, func() { l.expire(ticket) })
	}
	return l.ticket, true
}

// Release SUBMITTING -> IDLE；重复释放或凭证过期时返回 false
func (l *InFlightLock) Release(t Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LockSubmitting || l.ticket != t {
		return false
	}
	l.releaseLocked()
	return true
}

func (l *InFlightLock) releaseLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.state = LockIdle
	l.reason = ""
	l.since = time.Time{}
}

func (l *InFlightLock) expire(t Ticket) {
	l.mu.Lock()
	if l.state != LockSubmitting || l.ticket != t {
		l.mu.Unlock()
		return
	}
	reason, held := l.reason, time.Since(l.since)
	l.releaseLocked()
	onForced := l.onForced
	l.mu.Unlock()

	if onForced != nil {
		onForced(reason, held)
	}
}

// State 当前状态
func (l *InFlightLock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Held 是否处于 SUBMITTING
func (l *InFlightLock) Held() bool {
	return l.State() == LockSubmitting
}

// Reason 持锁原因（buy/sell/replace）
func (l *InFlightLock) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}
