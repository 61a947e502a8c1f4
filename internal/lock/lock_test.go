package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLocker(client, "tribunal", time.Minute)
}

func TestAcquireRelease(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	caseID := uuid.New()

	lk, err := locker.TryAcquire(ctx, caseID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Лок занят — повторное взятие без ожидания падает
	if _, err := locker.TryAcquire(ctx, caseID); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}

	if err := lk.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	// После освобождения лок доступен
	if _, err := locker.TryAcquire(ctx, caseID); err != nil {
		t.Errorf("expected acquire after release, got %v", err)
	}
}

func TestAcquire_DifferentCasesIndependent(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	if _, err := locker.TryAcquire(ctx, uuid.New()); err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	if _, err := locker.TryAcquire(ctx, uuid.New()); err != nil {
		t.Errorf("locks on different cases must not conflict: %v", err)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	caseID := uuid.New()

	lk, err := locker.TryAcquire(ctx, caseID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		lk.Release(context.Background())
	}()

	// Второй захват дожидается освобождения
	if _, err := locker.Acquire(ctx, caseID, time.Second); err != nil {
		t.Errorf("expected acquire after wait, got %v", err)
	}
}

func TestRelease_DoubleReleaseFails(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	lk, err := locker.TryAcquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lk.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lk.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld on double release, got %v", err)
	}
}

func TestRelease_ForeignLockProtected(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	caseID := uuid.New()

	first, err := locker.TryAcquire(ctx, caseID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	second, err := locker.TryAcquire(ctx, caseID)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}

	// Старый держатель не может снять новый лок
	if err := first.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld for stale holder, got %v", err)
	}

	// Новый держатель освобождает нормально
	if err := second.Release(ctx); err != nil {
		t.Errorf("release by current holder: %v", err)
	}
}
