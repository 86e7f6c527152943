package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

// Policy описывает повторы одной операции с хранилищем при временных сбоях.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Factor         float64
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// Jitter возвращает число из [0, 1); при nil используется math/rand.
	Jitter func() float64
	Notify func(op string, err error, delay time.Duration)
}

// DefaultPolicy: 3 попытки, задержка min(250мс * 1.5^n * [0.5, 1.0), 5с), 10с на попытку.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	BaseDelay:      250 * time.Millisecond,
	Factor:         1.5,
	MaxDelay:       5 * time.Second,
	AttemptTimeout: 10 * time.Second,
}

var transientPatterns = []string{
	"connection pool",
	"too many clients",
	"too many connections",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"etimedout",
	"econnrefused",
	"server closed the connection",
	"conn closed",
	"unexpected eof",
}

// IsTransient сообщает, относится ли ошибка к временным сбоям инфраструктуры.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Do выполняет fn с политикой по умолчанию.
func Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return DefaultPolicy.Do(ctx, op, fn)
}

// Value выполняет fn с политикой по умолчанию и возвращает результат.
func Value[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return ValueWith(ctx, DefaultPolicy, op, fn)
}

// ValueWith выполняет fn с указанной политикой и возвращает результат.
func ValueWith[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Do повторяет fn при временных ошибках. Постоянные ошибки возвращаются сразу.
// Исчерпание попыток возвращает ошибку, оборачивающую domain.ErrUnavailable.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var b backoff.BackOff = &jitterBackOff{policy: p}
	b = backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(attempts-1))

	operation := func() error {
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		metrics.ConnectionRetries.WithLabelValues(op).Inc()
		if p.Notify != nil {
			p.Notify(op, err, delay)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if IsTransient(err) && ctx.Err() == nil {
		metrics.ConnectionRetryExhausted.WithLabelValues(op).Inc()
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
	}
	return err
}

func (p Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.AttemptTimeout)
}

// Delay возвращает задержку перед повтором после попытки attempt (с нуля) для множителя jitter из [0, 1).
func (p Policy) Delay(attempt int, jitter float64) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt)) * (0.5 + 0.5*jitter)
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(base)
}

type jitterBackOff struct {
	policy  Policy
	attempt int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	jitter := rand.Float64
	if b.policy.Jitter != nil {
		jitter = b.policy.Jitter
	}
	d := b.policy.Delay(b.attempt, jitter())
	b.attempt++
	return d
}

func (b *jitterBackOff) Reset() {
	b.attempt = 0
}
