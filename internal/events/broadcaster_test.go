// internal/events/broadcaster_test.go
package events

import (
	"sync"
	"testing"
	"time"
)

// capturePublisher запоминает всё, что ушло во внешний транспорт
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (c *capturePublisher) Publish(channel string, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведённое время")
}

func TestBroadcaster_DeliversToSessionSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Start()
	defer b.Stop()

	ch, cancel := b.Subscribe("s-1")
	defer cancel()

	b.Publish(Event{Type: TypeSessionClosed, SessionID: "s-1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeSessionClosed || ev.SessionID != "s-1" {
			t.Errorf("получено %+v", ev)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Error("id и timestamp должны заполняться автоматически")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("событие не доставлено")
	}
}

func TestBroadcaster_SessionScoping(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Start()
	defer b.Stop()

	other, cancelOther := b.Subscribe("s-2")
	defer cancelOther()
	all, cancelAll := b.Subscribe("") // firehose

	b.Publish(Event{Type: TypeSessionWarning, SessionID: "s-1"})

	select {
	case ev := <-all:
		if ev.SessionID != "s-1" {
			t.Errorf("firehose получил %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("firehose не получил событие")
	}
	cancelAll()

	select {
	case ev := <-other:
		t.Errorf("подписчик чужой сессии получил %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ForwardsToTransport(t *testing.T) {
	sink := &capturePublisher{}
	b := NewBroadcaster(sink)
	b.Start()

	b.Publish(Event{Type: TypeSessionClosed, SessionID: "s-9"})
	waitFor(t, func() bool { return sink.count() == 1 })
	b.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].SessionID != "s-9" {
		t.Errorf("транспорту ушло %+v", sink.events[0])
	}
}

// Publish не блокирует даже без запущенных воркеров
func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(nil, BroadcasterConfig{BufferSize: 2, WorkerCount: 1, SubscriberBuffer: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeSessionWarning, SessionID: "s-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish заблокировался на переполненном буфере")
	}
	if b.Dropped() == 0 {
		t.Error("ожидались отброшенные события")
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Start()
	defer b.Stop()

	ch, cancel := b.Subscribe("s-1")
	cancel()

	// Канал закрыт, событий нет
	if _, ok := <-ch; ok {
		t.Error("канал подписчика должен быть закрыт после отписки")
	}
}
