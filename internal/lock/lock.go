// Package lock реализует распределённый мьютекс на Redis.
//
// Используется оркестратором для сериализации работы с одним кейсом:
// обработка отчёта о завершении задачи, отмена и advancement DAG
// одного кейса никогда не идут параллельно, даже на разных репликах
// оркестратора. Кейсы с разными ID обрабатываются независимо.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ошибки мьютекса.
var (
	// ErrNotAcquired — лок не взят за отведённое время.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrNotHeld — попытка освободить чужой или истёкший лок.
	ErrNotHeld = errors.New("lock not held")
)

// releaseScript освобождает лок только если токен совпадает.
// Защита от снятия чужого лока после истечения TTL.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker выдаёт локи на кейсы.
type Locker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	release   *redis.Script
}

// NewLocker создаёт Locker поверх готового Redis-клиента.
// ttl — срок владения локом (по умолчанию 30 секунд): упавший
// держатель не блокирует кейс навсегда.
func NewLocker(client *redis.Client, keyPrefix string, ttl time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "tribunal"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		release:   redis.NewScript(releaseScript),
	}
}

// Lock — взятый лок на кейс.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

func (l *Locker) caseKey(caseID uuid.UUID) string {
	return fmt.Sprintf("%s:lock:case:%s", l.keyPrefix, caseID)
}

// Acquire берёт лок на кейс, ожидая до wait при занятости.
//
// Возвращает ErrNotAcquired, если лок не освободился за wait.
// Ожидание прерывается отменой контекста.
func (l *Locker) Acquire(ctx context.Context, caseID uuid.UUID, wait time.Duration) (*Lock, error) {
	key := l.caseKey(caseID)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			return &Lock{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: case %s", ErrNotAcquired, caseID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TryAcquire берёт лок без ожидания.
func (l *Locker) TryAcquire(ctx context.Context, caseID uuid.UUID) (*Lock, error) {
	return l.Acquire(ctx, caseID, 0)
}

// Release освобождает лок. Возвращает ErrNotHeld, если лок уже
// истёк или был взят другим держателем.
func (lk *Lock) Release(ctx context.Context) error {
	res, err := lk.locker.release.Run(ctx, lk.locker.client,
		[]string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
