// internal/engine/testhelpers_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/events"
	"abcom-trader/internal/jobs"
)

// fakeClock - управляемые часы для детерминированных тестов
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRepo - репозиторий в памяти с настоящей CAS-семантикой по версии
type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	audit    []session.AuditEntry

	listCalls int
	// казённые ошибки для тестов изоляции
	casErrFor map[string]error
	// число искусственных конфликтов перед успехом
	forceConflicts int
	// вызывается перед CAS под мьютексом - имитация внешнего писателя
	beforeCAS func(r *fakeRepo)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:  make(map[string]session.Session),
		casErrFor: make(map[string]error),
	}
}

func (r *fakeRepo) put(s session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("fakeRepo: %w", session.ErrNotFound)
	}
	copied := s
	return &copied, nil
}

func (r *fakeRepo) FindAllActive(ctx context.Context) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []*session.Session
	for _, s := range r.sessions {
		if s.Status == session.StatusActive {
			copied := s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) CompareAndSwap(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.casErrFor[s.ID]; err != nil {
		return err
	}
	if r.beforeCAS != nil {
		hook := r.beforeCAS
		r.beforeCAS = nil
		hook(r)
	}
	if r.forceConflicts > 0 {
		r.forceConflicts--
		return session.ErrVersionConflict
	}

	stored, ok := r.sessions[s.ID]
	if !ok {
		return fmt.Errorf("fakeRepo: %w", session.ErrNotFound)
	}
	if stored.Version != s.Version {
		return session.ErrVersionConflict
	}
	next := *s
	next.Version++
	r.sessions[s.ID] = next
	s.Version = next.Version
	return nil
}

func (r *fakeRepo) AppendAudit(ctx context.Context, entry session.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, entry)
	return nil
}

func (r *fakeRepo) countAudit(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.audit {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (r *fakeRepo) status(id string) session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].Status
}

// captureTransport запоминает события, ушедшие во внешний транспорт
type captureTransport struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureTransport) Publish(channel string, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureTransport) countType(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var errTransient = errors.New("transient io failure")

const testLossLimit = 9.0

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testRig - собранный движок на фейках
type testRig struct {
	repo      *fakeRepo
	queue     *jobs.MemoryQueue
	transport *captureTransport
	bcast     *events.Broadcaster
	clock     *fakeClock
	manager   *Manager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clock := newFakeClock(testStart)
	repo := newFakeRepo()
	queue := jobs.NewMemoryQueue(clock)
	transport := &captureTransport{}
	bcast := events.NewBroadcaster(transport)
	bcast.Start()
	t.Cleanup(bcast.Stop)

	manager := NewManager(repo, queue, bcast,
		session.NewWarningCache([]int{80, 90, 95}), clock,
		ManagerConfig{RetentionWindow: 24 * time.Hour, MaxJobRetries: 3})

	return &testRig{
		repo:      repo,
		queue:     queue,
		transport: transport,
		bcast:     bcast,
		clock:     clock,
		manager:   manager,
	}
}

// addActive кладёт в репозиторий активную сессию с окном 60 минут
func (r *testRig) addActive(id string, pnl float64) {
	start := testStart
	end := testStart.Add(60 * time.Minute)
	r.repo.put(session.Session{
		ID:              id,
		UserID:          1,
		Status:          session.StatusActive,
		DurationMinutes: 60,
		LossLimitAmount: testLossLimit,
		StartTime:       &start,
		EndTime:         &end,
		RealizedPnl:     pnl,
		Version:         1,
		CreatedAt:       testStart,
	})
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
