// Package poll waits for asynchronous device operations which can only be
// observed by asking for their status again and again.
package poll

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 4 * time.Hour
)

// Status is what a single status read reports.
type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Query reads the current status of an operation. An error aborts Await.
type Query interface {
	Status(ctx context.Context) (Status, error)
}

type QueryFunc func(ctx context.Context) (Status, error)

func (f QueryFunc) Status(ctx context.Context) (Status, error) {
	return f(ctx)
}

// Match turns a raw status read and two predicates into a Query. The success
// predicate is evaluated first, so a read which matches both counts as
// success. The order is kept for compatibility with existing logs.
func Match[T any](read func(context.Context) (T, error), succeeded, failed func(T) bool) Query {
	return QueryFunc(func(ctx context.Context) (Status, error) {
		v, err := read(ctx)
		if err != nil {
			return Pending, err
		}
		switch {
		case succeeded(v):
			return Succeeded, nil
		case failed(v):
			return Failed, nil
		default:
			return Pending, nil
		}
	})
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Outcome is the terminal state of Await.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "timed out"
	}
}

type Result struct {
	Outcome Outcome
	Queries int
	Sleeps  int
	// Elapsed is the wall time of Await, status reads included.
	Elapsed time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%s after %d status queries in %s", r.Outcome, r.Queries, r.Elapsed)
}

// Await queries q until it reports a terminal status or cfg.Timeout has
// passed since the call. A reported failure is final, it is never retried.
// Status reads run under a context which expires with the timeout, a read
// cut short by it counts as a timeout, not as an error. Sleeps are clamped
// so Await never waits past the timeout.
func Await(ctx context.Context, q Query, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var res Result
	for {
		status, err := q.Status(qctx)
		res.Queries++
		res.Elapsed = time.Since(start)
		if err != nil {
			if ctx.Err() == nil && qctx.Err() != nil {
				res.Outcome = OutcomeTimedOut
				return res, nil
			}
			return res, fmt.Errorf("querying status: %w", err)
		}
		switch status {
		case Succeeded:
			res.Outcome = OutcomeSucceeded
			return res, nil
		case Failed:
			res.Outcome = OutcomeFailed
			return res, nil
		}

		left := cfg.Timeout - res.Elapsed
		if left <= 0 {
			break
		}
		err = Sleep(ctx, min(cfg.Interval, left))
		res.Elapsed = time.Since(start)
		if err != nil {
			return res, err
		}
		res.Sleeps++
		if res.Elapsed >= cfg.Timeout {
			break
		}
	}
	res.Outcome = OutcomeTimedOut
	return res, nil
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
