package event

import (
	"sync/atomic"
	"time"

	"spottrader/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeOrderPlaced       EventType = "order_placed"
	EventTypeOrderUpdate       EventType = "order_update"
	EventTypeOrderFilled       EventType = "order_filled"
	EventTypeStopLoss          EventType = "stop_loss"
	EventTypeSubmitFailed      EventType = "submit_failed"
	EventTypeLockForcedRelease EventType = "lock_forced_release"
	EventTypeBootFailed        EventType = "boot_failed"
	EventTypeSystemStart       EventType = "system_start"
	EventTypeSystemStop        EventType = "system_stop"
)

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// New 创建事件
func New(t EventType, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{Type: t, Timestamp: time.Now(), Data: data}
}

// Publisher 事件发布者
type Publisher interface {
	Publish(event *Event)
}

// EventBus 单消费者事件总线。发布方不会被阻塞，队列满时丢弃并计数
type EventBus struct {
	ch      chan *Event
	dropped atomic.Uint64
}

// NewEventBus 创建事件总线，bufferSize<=0 时为 1000
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{ch: make(chan *Event, bufferSize)}
}

// Publish 发布事件
func (eb *EventBus) Publish(evt *Event) {
	if evt == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case eb.ch <- evt:
	default:
		eb.dropped.Add(1)
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", evt.Type)
	}
}

// Subscribe 返回唯一的消费 channel
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.ch
}

// Dropped 因队列满被丢弃的事件数
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}
