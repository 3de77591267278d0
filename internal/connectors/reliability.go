package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

type ReliabilityOptions struct {
	Timeout           time.Duration
	Attempts          uint // 1: без повторов
	RequestsPerSecond float64
	Burst             int
	CBMaxRequests     uint32
	CBInterval        time.Duration
	CBTimeout         time.Duration
}

// ReliableClient защитная обвязка клиента модели: лимитер, предохранитель, повторы, таймаут
type ReliableClient struct {
	next    ReasoningClient
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    ReliabilityOptions
}

func NewReliableClient(next ReasoningClient, opts ReliabilityOptions) *ReliableClient {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reasoning-client",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд: открываемся
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliableClient{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
	}
}

func (c *ReliableClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("%w: rate limit: %v", domain.ErrExternalCall, err)
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		var out Completion
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.opts.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				if d, ok := retryAfter(err); ok {
					return d
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()

			var callErr error
			out, callErr = c.next.Complete(tCtx, req)
			return callErr
		})
		return out, retryErr
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%w: reasoning engine: %v", domain.ErrExternalCall, err)
	}
	return res.(Completion), nil
}
