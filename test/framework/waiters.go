// Package framework collects small test-harness utilities shared by
// scenario tests: condition waiters/pollers and message/swarm
// assertions layered on top of pkg/swarm, pkg/blockchain and
// pkg/testcontext.
package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
	"github.com/msgmaxim/swarm-harness/pkg/testcontext"
)

// Waiter provides utilities for waiting on conditions with timeouts.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults (30s timeout, 1s interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForSwarmCount waits for the manager to settle on exactly count swarms.
func (w *Waiter) WaitForSwarmCount(ctx context.Context, mgr *swarm.Manager, count int) error {
	return w.WaitFor(ctx, func() bool {
		return len(mgr.Swarms()) == count
	}, fmt.Sprintf("swarm manager to have %d swarms", count))
}

// WaitForTotalNodeCount waits for the manager's swarms to collectively
// hold exactly count service nodes.
func (w *Waiter) WaitForTotalNodeCount(ctx context.Context, mgr *swarm.Manager, count int) error {
	return w.WaitFor(ctx, func() bool {
		total := 0
		for _, sw := range mgr.Swarms() {
			total += len(sw.Nodes)
		}
		return total == count
	}, fmt.Sprintf("swarm manager to hold %d service nodes total", count))
}

// WaitForBlockHeight waits for the chain to reach at least height.
func (w *Waiter) WaitForBlockHeight(ctx context.Context, bc *blockchain.Blockchain, height uint64) error {
	return w.WaitFor(ctx, func() bool {
		return bc.Height() >= height
	}, fmt.Sprintf("block height to reach %d", height))
}

// WaitForSnapshot waits for the cache's snapshot height to reach at
// least height, useful for waiting out the poll interval after a chain
// mutation before asserting on RPC-visible state.
func (w *Waiter) WaitForSnapshot(ctx context.Context, cache *blockchain.Cache, height uint64) error {
	return w.WaitFor(ctx, func() bool {
		return cache.Get().Height >= height
	}, fmt.Sprintf("cached snapshot to reach height %d", height))
}

// WaitForNoLostMessages repeatedly checks tc until a pass reports zero
// losses, or the timeout expires leaving the last lossy result as the
// timeout error's context.
func (w *Waiter) WaitForNoLostMessages(ctx context.Context, tc *testcontext.Context) (testcontext.CheckResult, error) {
	var last testcontext.CheckResult
	err := w.WaitFor(ctx, func() bool {
		last = tc.CheckMessages()
		return last.Lost == 0
	}, "no lost messages")
	return last, err
}

// WaitForConditionWithRetry waits for a condition with exponential backoff retry.
func (w *Waiter) WaitForConditionWithRetry(ctx context.Context, condition func() (bool, error), description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	maxInterval := 10 * time.Second

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("error checking condition '%s': %w", description, err)
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-time.After(interval):
			interval = interval * 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// PollUntil polls a condition until it returns true or context is cancelled.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntilWithError polls a condition that can return an error.
func PollUntilWithError(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if ok, err := condition(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := condition(); err != nil {
				return err
			} else if ok {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
