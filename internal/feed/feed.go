package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"quantcore/internal/logger"
	"quantcore/internal/market"
)

var (
	ErrClosed     = errors.New("feed closed")
	ErrStopped    = errors.New("feed consumer stopped")
	ErrOutOfOrder = errors.New("bar timestamp not after previous bar")
)

const defaultCapacity = 256

// Event 单根 K 线事件。
type Event struct {
	Symbol string
	Candle market.Candle
}

// Handler 处理一根 K 线。返回错误会终止消费。
type Handler func(ctx context.Context, evt Event) error

// Option 配置 Feed。
type Option func(*Feed)

// WithErrorHook 每次处理出错时回调，便于计数。
func WithErrorHook(fn func(Event, error)) Option {
	return func(f *Feed) { f.onError = fn }
}

// WithContinueOnError 处理出错时记录并继续，而不是终止。
func WithContinueOnError() Option {
	return func(f *Feed) { f.keepGoing = true }
}

// Feed 固定容量的 K 线队列。队列满时 Publish 阻塞（背压），同一标的时间戳必须严格递增。
type Feed struct {
	ch      chan Event
	handler Handler

	onError   func(Event, error)
	keepGoing bool

	mu     sync.RWMutex
	closed bool

	// pub 容量为 1 的令牌，序号推进与入队在持有令牌时完成，
	// 并发发布同一标的时入队顺序与序号一致。last 只在持有令牌时读写。
	pub  chan struct{}
	last map[string]int64

	runOnce sync.Once
	stop    chan struct{}
	errMu   sync.Mutex
	err     error
}

func New(capacity int, h Handler, opts ...Option) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	f := &Feed{
		ch:      make(chan Event, capacity),
		handler: h,
		pub:     make(chan struct{}, 1),
		last:    make(map[string]int64),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Feed) Len() int { return len(f.ch) }
func (f *Feed) Cap() int { return cap(f.ch) }

// Publish 入队。队列满时等待，直到有空位、ctx 取消或消费者退出。
func (f *Feed) Publish(ctx context.Context, evt Event) error {
	evt.Symbol = strings.ToUpper(strings.TrimSpace(evt.Symbol))
	if evt.Symbol == "" {
		return errors.New("feed event missing symbol")
	}
	if err := evt.Candle.Validate(); err != nil {
		return fmt.Errorf("%s: %w", evt.Symbol, err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	select {
	case f.pub <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return f.stoppedErr()
	}
	defer func() { <-f.pub }()

	prev, had, err := f.advance(evt)
	if err != nil {
		return err
	}
	select {
	case f.ch <- evt:
		return nil
	case <-ctx.Done():
		f.rollback(evt, prev, had)
		return ctx.Err()
	case <-f.stop:
		f.rollback(evt, prev, had)
		return f.stoppedErr()
	}
}

func (f *Feed) advance(evt Event) (int64, bool, error) {
	ts := evt.Candle.Time().UnixMilli()
	prev, ok := f.last[evt.Symbol]
	if ok && ts <= prev {
		return 0, false, fmt.Errorf("%w: %s %s", ErrOutOfOrder, evt.Symbol, evt.Candle.TimeString())
	}
	f.last[evt.Symbol] = ts
	return prev, ok, nil
}

// rollback 入队失败时撤销序号推进，允许同一根 K 线重试。
func (f *Feed) rollback(evt Event, prev int64, had bool) {
	if had {
		f.last[evt.Symbol] = prev
	} else {
		delete(f.last, evt.Symbol)
	}
}

// Close 停止接收新事件。已入队的事件仍会被 Run 处理完。
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

// Run 消费队列直到 Close 后排空、ctx 取消或处理出错。只能调用一次。
func (f *Feed) Run(ctx context.Context) error {
	if f.handler == nil {
		return errors.New("feed handler is nil")
	}
	started := false
	f.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("feed already running")
	}
	err := f.consume(ctx)
	f.errMu.Lock()
	f.err = err
	f.errMu.Unlock()
	close(f.stop)
	return err
}

func (f *Feed) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-f.ch:
			if !ok {
				return nil
			}
			if err := f.handler(ctx, evt); err != nil {
				if f.onError != nil {
					f.onError(evt, err)
				}
				if !f.keepGoing {
					return fmt.Errorf("handle %s %s: %w", evt.Symbol, evt.Candle.TimeString(), err)
				}
				logger.Warnf("[feed] %s %s 处理失败: %v", evt.Symbol, evt.Candle.TimeString(), err)
			}
		}
	}
}

func (f *Feed) stoppedErr() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.err != nil {
		return fmt.Errorf("%w: %v", ErrStopped, f.err)
	}
	return ErrStopped
}
