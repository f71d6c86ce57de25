package event

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"machinehub/internal/buffer"
	"machinehub/internal/logging"
	"machinehub/internal/metrics"
)

const defaultSubscriberBufferSize = 128
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	Registry             *metrics.Registry
	Logger               *logging.Logger
	// EmitOTel forwards every published Event as an OTel log record.
	EmitOTel bool
}

// Bus fans published values out to subscribers without blocking the
// publisher. A full subscriber loses the value and the drop is counted.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	history     *buffer.Ring[T]
	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
}

type subscription[T any] struct {
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Name() string {
	if b == nil {
		return ""
	}
	return b.options.Name
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		return closedChannel[T](), func() {}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedChannel[T](), func() {}
	}
	if b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers {
		b.mu.Unlock()
		return closedChannel[T](), func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	ch := make(chan T, b.options.SubscriberBufferSize)
	b.subscribers[id] = subscription[T]{ch: ch, filter: filter}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	b.options.Registry.SetEventSubscriberCounts(b.options.Name, filtered, unfiltered)
	return ch, func() { b.removeSubscriber(id) }
}

// SubscribeTypes delivers only values implementing Event whose Type is listed.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	typeSet := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			typeSet[eventType] = struct{}{}
		}
	}
	if len(typeSet) == 0 {
		return closedChannel[T](), func() {}
	}
	return b.SubscribeFiltered(func(value T) bool {
		typed, ok := any(value).(Event)
		if !ok {
			return false
		}
		_, matched := typeSet[typed.Type()]
		return matched
	})
}

func (b *Bus[T]) Publish(value T) {
	if b == nil || isNil(value) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Push(value)
	}
	targets := make([]subscription[T], 0, len(b.subscribers))
	ids := make([]uint64, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		targets = append(targets, sub)
		ids = append(ids, id)
	}
	b.mu.Unlock()

	eventType := typeOf(value)
	b.published.Add(1)
	b.options.Registry.IncEventPublished(b.options.Name, eventType)
	if b.options.EmitOTel {
		emitOTel(b.options.Name, value)
	}

	for idx, sub := range targets {
		if !b.filterAllows(ids[idx], sub, value) {
			continue
		}
		if !b.trySend(ids[idx], sub, value) {
			b.dropped.Add(1)
			b.options.Registry.IncEventDropped(b.options.Name, eventType)
			b.maybeWarnDropRate()
		}
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.options.Registry.SetEventSubscriberCounts(b.options.Name, 0, 0)
	})
}

// History returns up to count of the most recent values, oldest first.
// count <= 0 returns everything retained.
func (b *Bus[T]) History(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.history == nil {
		return nil
	}
	return b.history.Last(count)
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus[T]) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

func (b *Bus[T]) trySend(id uint64, sub subscription[T], value T) (delivered bool) {
	defer func() {
		if recover() != nil {
			// The subscriber was cancelled between snapshot and send.
			delivered = true
		}
	}()
	select {
	case sub.ch <- value:
		return true
	default:
		return false
	}
}

func (b *Bus[T]) filterAllows(id uint64, sub subscription[T], value T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.options.Logger.Warn("event subscriber filter panicked", map[string]string{"bus": b.options.Name})
			b.removeSubscriber(id)
			allowed = false
		}
	}()
	return sub.filter(value)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscribers, id)
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	close(existing.ch)
	b.options.Registry.SetEventSubscriberCounts(b.options.Name, filtered, unfiltered)
}

func (b *Bus[T]) countSubscribersLocked() (filtered int, unfiltered int) {
	for _, sub := range b.subscribers {
		if sub.filter == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func (b *Bus[T]) maybeWarnDropRate() {
	published := b.published.Load()
	dropped := b.dropped.Load()
	if published == 0 || dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < b.options.DropWarningThreshold {
		return
	}
	now := time.Now()
	last := b.lastWarning.Load()
	if last > 0 && now.Sub(time.Unix(0, last)) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	b.options.Logger.Warn("event bus dropping events", map[string]string{
		"bus":       b.options.Name,
		"drop_rate": fmt.Sprintf("%.2f%%", rate*100),
		"dropped":   fmt.Sprintf("%d", dropped),
		"published": fmt.Sprintf("%d", published),
	})
}

func typeOf[T any](value T) string {
	typed, ok := any(value).(Event)
	if !ok || typed.Type() == "" {
		return "unknown"
	}
	return typed.Type()
}

func closedChannel[T any]() chan T {
	ch := make(chan T)
	close(ch)
	return ch
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}
