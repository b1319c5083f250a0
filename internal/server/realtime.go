package server

import (
	"context"
	"sync"
	"time"
)

const (
	TaskEventCreated       = "task-created"
	TaskEventUpdated       = "task-updated"
	TaskEventDeleted       = "task-deleted"
	realtimeEventHeartbeat = "heartbeat"
)

// TaskEvent announces a task mutation to a user's live subscribers.
type TaskEvent struct {
	UserID    int64     `json:"-"`
	EventType string    `json:"event"`
	TaskID    int64     `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskEventDispatcher fans task mutations out to per-user SSE subscribers.
// Sends never block: a subscriber that cannot keep up drops events rather
// than stalling the mutating request.
type TaskEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]*taskEventSubscriber
	nextID      int64
	bufferSize  int
}

type taskEventSubscriber struct {
	id     int64
	stream chan TaskEvent
}

func NewTaskEventDispatcher() *TaskEventDispatcher {
	return &TaskEventDispatcher{
		subscribers: make(map[int64]map[int64]*taskEventSubscriber),
		bufferSize:  16,
	}
}

func (d *TaskEventDispatcher) Subscribe(ctx context.Context, userID int64) (<-chan TaskEvent, func()) {
	if userID <= 0 {
		ch := make(chan TaskEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &taskEventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan TaskEvent, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *TaskEventDispatcher) Publish(event TaskEvent) {
	if event.UserID <= 0 || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*taskEventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *TaskEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *TaskEventDispatcher) registerSubscriber(userID int64, subscriber *taskEventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*taskEventSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *TaskEventDispatcher) unregisterSubscriber(userID int64, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
