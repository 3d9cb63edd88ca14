package main

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

type retrier struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int
}

func newRetrier(initial, max time.Duration, maxRetries int) *retrier {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retrier{initial: initial, max: max, maxRetries: maxRetries}
}

func (r *retrier) do(fn func() error, retryable func(error) bool) error {
	var attempt int
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= r.maxRetries || !retryable(err) {
			return err
		}
		time.Sleep(backoffWithJitter(r.initial, r.max, attempt))
		attempt++
	}
}

func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	b := float64(initial) * math.Pow(2, float64(attempt))
	if b > float64(max) {
		b = float64(max)
	}
	j := b / 2
	return time.Duration(j + rand.Float64()*j)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr statusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500 && statusErr.status < 600
	}
	return false
}

type statusError struct {
	status int
	body   string
}

func (e statusError) Error() string {
	if e.body != "" {
		return e.body
	}
	return http.StatusText(e.status)
}
