// internal/events/broadcaster.go
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"abcom-trader/pkg/logger"
)

// BroadcasterConfig - конфигурация рассыльщика
type BroadcasterConfig struct {
	BufferSize  int
	WorkerCount int
	// Ёмкость канала одного подписчика
	SubscriberBuffer int
}

// DefaultBroadcasterConfig - конфигурация по умолчанию
var DefaultBroadcasterConfig = BroadcasterConfig{
	BufferSize:       1000,
	WorkerCount:      4,
	SubscriberBuffer: 16,
}

type subscriber struct {
	id string
	ch chan Event
}

// Broadcaster - рассылка событий жизненного цикла наблюдателям.
//
// Publish никогда не блокирует планировщик и исполнитель задач:
// события проходят через буферизованный канал, при переполнении
// событие отбрасывается со счётчиком. Медленный подписчик теряет
// события, но не тормозит остальных.
type Broadcaster struct {
	mu sync.RWMutex
	// sessionID -> подписчики; ключ "" - подписка на все сессии
	subs map[string][]*subscriber

	transport Publisher // внешний транспорт, может быть nil
	buffer    chan Event
	dropped   uint64

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	config   BroadcasterConfig
}

// NewBroadcaster создаёт рассыльщик. transport может быть nil (только локальные подписчики).
func NewBroadcaster(transport Publisher, config ...BroadcasterConfig) *Broadcaster {
	cfg := DefaultBroadcasterConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Broadcaster{
		subs:      make(map[string][]*subscriber),
		transport: transport,
		buffer:    make(chan Event, cfg.BufferSize),
		stopChan:  make(chan struct{}),
		config:    cfg,
	}
}

// Start запускает воркеры рассылки
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	logger.Info("🚀 Broadcaster запущен (%d воркеров)", b.config.WorkerCount)
}

// Stop останавливает рассылку и закрывает каналы подписчиков
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	b.mu.Lock()
	for _, list := range b.subs {
		for _, s := range list {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*subscriber)
	b.mu.Unlock()

	logger.Info("🛑 Broadcaster остановлен (отброшено событий: %d)", b.Dropped())
}

// Publish отдаёт событие в рассылку. Не блокирует: при переполнении
// буфера событие отбрасывается.
func (b *Broadcaster) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case b.buffer <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		logger.Warn("⚠️ Broadcaster: буфер переполнен, событие %s отброшено (session=%s)",
			ev.Type, ev.SessionID)
	}
}

// Subscribe подписывает наблюдателя на события сессии.
// Пустой sessionID - подписка на все сессии. Возвращает канал и функцию отписки.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Event, func()) {
	s := &subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, b.config.SubscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], s)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[sessionID]
		for i, cur := range list {
			if cur.id == s.id {
				b.subs[sessionID] = append(list[:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return s.ch, cancel
}

// Dropped возвращает число отброшенных событий
func (b *Broadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Broadcaster) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.buffer:
			b.dispatch(ev)
		case <-b.stopChan:
			// Дорассылаем то, что уже в буфере
			for {
				select {
				case ev := <-b.buffer:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// dispatch доставляет событие локальным подписчикам и внешнему транспорту
func (b *Broadcaster) dispatch(ev Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, 4)
	targets = append(targets, b.subs[ev.SessionID]...)
	if ev.SessionID != "" {
		targets = append(targets, b.subs[""]...)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			// Подписчик не успевает - событие для него теряется
		}
	}

	if b.transport != nil {
		if err := b.transport.Publish(SessionChannel(ev.SessionID), ev); err != nil {
			logger.Error("❌ Broadcaster: ошибка внешнего транспорта: %v", err)
		}
	}
}
