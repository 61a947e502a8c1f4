package queue

import (
	"math/rand/v2"
	"time"

	"github.com/shaiso/Tribunal/internal/domain"
)

// calculateBackoff вычисляет задержку перед повторной попыткой.
//
// delay = base * 2^(attempt-1), обрезается по max, затем к результату
// применяется jitter ±JitterFraction, чтобы развести ретраи
// одновременно упавших задач по времени.
func calculateBackoff(attempt int, policy domain.RetryPolicy) time.Duration {
	base := time.Duration(policy.BaseDelayMs) * time.Millisecond
	if base <= 0 {
		base = time.Duration(domain.DefaultBaseDelayMs) * time.Millisecond
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = time.Duration(domain.DefaultMaxDelayMs) * time.Millisecond
	}

	// delay = base * 2^(attempt-1)
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if policy.JitterFraction > 0 {
		// Равномерный разброс в пределах ±JitterFraction
		spread := (rand.Float64()*2 - 1) * policy.JitterFraction
		delay = time.Duration(float64(delay) * (1 + spread))
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
