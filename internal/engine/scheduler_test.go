// internal/engine/scheduler_test.go
package engine

import (
	"context"
	"testing"
	"time"

	"abcom-trader/internal/core/domain/session"
)

func newTestScheduler(rig *testRig) *Scheduler {
	return NewScheduler(rig.manager, rig.repo, rig.queue, rig.clock, SchedulerConfig{
		SweepInterval:   10 * time.Millisecond,
		SessionTimeout:  time.Second,
		CleanupInterval: 24 * time.Hour,
		MaxJobRetries:   3,
	})
}

// Один проход завершает все назревшие сессии и не трогает здоровые
func TestScheduler_SweepTerminatesDueSessions(t *testing.T) {
	rig := newTestRig(t)
	rig.addActive("s-expired", 2)
	rig.addActive("s-loss", -9.5)
	rig.addActive("s-healthy", -1)
	rig.clock.Advance(30 * time.Minute)

	// s-expired: сдвигаем окно в прошлое
	s, _ := rig.repo.GetByID(context.Background(), "s-expired")
	past := rig.clock.Now().Add(-time.Hour)
	pastEnd := rig.clock.Now().Add(-time.Minute)
	s.StartTime, s.EndTime = &past, &pastEnd
	rig.repo.put(*s)

	sched := newTestScheduler(rig)
	sched.Sweep()

	if got := rig.repo.status("s-expired"); got != session.StatusCompleted {
		t.Errorf("s-expired: status = %q, want completed (время вышло в плюсе)", got)
	}
	if got := rig.repo.status("s-loss"); got != session.StatusLossLimitReached {
		t.Errorf("s-loss: status = %q, want loss_limit_reached", got)
	}
	if got := rig.repo.status("s-healthy"); got != session.StatusActive {
		t.Errorf("s-healthy: status = %q, want active", got)
	}
}

// Ошибка одной сессии не прерывает проход для остальных
func TestScheduler_SweepIsolatesFailures(t *testing.T) {
	rig := newTestRig(t)
	rig.addActive("s-broken", -9.5)
	rig.addActive("s-loss", -9.5)
	rig.repo.casErrFor["s-broken"] = errTransient

	sched := newTestScheduler(rig)
	sched.Sweep()

	if got := rig.repo.status("s-loss"); got != session.StatusLossLimitReached {
		t.Errorf("s-loss: status = %q, want loss_limit_reached", got)
	}
	if got := rig.repo.status("s-broken"); got != session.StatusActive {
		t.Errorf("s-broken: status = %q, want active (CAS падает)", got)
	}

	// Для упавшей сессии поставлена recheck-задача
	found := false
	for {
		job, err := rig.queue.Dequeue(context.Background())
		if err != nil || job == nil {
			break
		}
		if job.SessionID == "s-broken" {
			found = true
		}
	}
	if !found {
		t.Error("recheck-задача для s-broken не поставлена")
	}
}

// Пока идёт проход, следующий пропускается, а не накладывается
func TestScheduler_SweepsNeverOverlap(t *testing.T) {
	rig := newTestRig(t)
	sched := newTestScheduler(rig)

	sched.sweeping = 1 // имитация незавершённого прохода
	sched.Sweep()

	if rig.repo.listCalls != 0 {
		t.Errorf("проход выполнился поверх незавершённого: listCalls = %d", rig.repo.listCalls)
	}

	sched.sweeping = 0
	sched.Sweep()
	if rig.repo.listCalls != 1 {
		t.Errorf("после снятия флага проход не выполнился: listCalls = %d", rig.repo.listCalls)
	}
}

// Start выполняет проход немедленно: сессии, истёкшие за время простоя
// процесса, завершаются без ожидания первого тика
func TestScheduler_RestoreOnStart(t *testing.T) {
	rig := newTestRig(t)
	rig.addActive("s-1", 1)
	rig.clock.Advance(2 * time.Hour) // процесс "лежал" дольше окна сессии

	sched := newTestScheduler(rig)
	sched.Start()
	defer sched.Stop()

	waitFor(t, func() bool { return rig.repo.status("s-1") == session.StatusCompleted })
}

// Занятая сессия пропускается и подхватывается следующим проходом
func TestScheduler_BusySessionSkipped(t *testing.T) {
	rig := newTestRig(t)
	rig.addActive("s-1", -9.5)

	release, ok := rig.manager.locks.TryAcquire("s-1")
	if !ok {
		t.Fatal("не удалось захватить lock в тесте")
	}

	sched := newTestScheduler(rig)
	sched.Sweep()
	if got := rig.repo.status("s-1"); got != session.StatusActive {
		t.Fatalf("занятая сессия изменила статус: %q", got)
	}

	release()
	sched.Sweep()
	if got := rig.repo.status("s-1"); got != session.StatusLossLimitReached {
		t.Errorf("после освобождения lock'а: status = %q, want loss_limit_reached", got)
	}
}
