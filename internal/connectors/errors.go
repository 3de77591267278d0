package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError провайдер модели попросил подождать (429 + Retry-After)
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("provider throttled, retry after %v: %v", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// retryAfter пауза, которую попросил провайдер. false, если ошибка не про троттлинг.
func retryAfter(err error) (time.Duration, bool) {
	var tErr *ThrottleError
	if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
		return tErr.RetryAfter, true
	}
	return 0, false
}
