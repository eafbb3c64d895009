package storage

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常写入
	BreakerOpen                         // 熔断，直接拒绝
	BreakerHalfOpen                     // 放行一次试探写入
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen 存储连续失败，熔断期内拒绝写入
var ErrBreakerOpen = errors.New("store circuit breaker is open")

// Breaker 存储写入熔断器
// 连续失败 threshold 次后熔断；cooldown 后放行一次试探，成功则恢复
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trips    int64
	probing  bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker 创建熔断器；threshold<=0 时不熔断
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Call 在熔断器保护下执行 fn；nil 熔断器直接执行
func (b *Breaker) Call(fn func() error) error {
	if b == nil {
		return fn()
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		// 同一时刻只放行一次试探
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || (b.threshold > 0 && b.failures >= b.threshold) {
		if b.state != BreakerOpen {
			b.trips++
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats 熔断器统计（健康检查输出）
type BreakerStats struct {
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
	Trips    int64  `json:"trips"`
}

// Stats 统计快照
func (b *Breaker) Stats() BreakerStats {
	if b == nil {
		return BreakerStats{State: BreakerClosed.String()}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state.String(), Failures: b.failures, Trips: b.trips}
}
