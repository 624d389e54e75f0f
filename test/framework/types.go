package framework

import (
	"context"
	"time"
)

// TestContext provides utilities for test execution: a context with a
// bound timeout and a stack of cleanup functions, mirroring what each
// scenario test wires up by hand around pkg/scenario.Env.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration

	cleanup []func()
}

// NewTestContext creates a TestContext bound to timeout. It registers
// nothing with t: the AddCleanup'd functions run, and Ctx is cancelled,
// only when Close is called.
func NewTestContext(t TestingT, timeout time.Duration) *TestContext {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	tc := &TestContext{T: t, Ctx: ctx, Cancel: cancel, Timeout: timeout}
	return tc
}

// AddCleanup registers a function to run when Close is called, LIFO order.
func (tc *TestContext) AddCleanup(fn func()) {
	tc.cleanup = append(tc.cleanup, fn)
}

// Close cancels the context and runs every registered cleanup, most
// recently added first.
func (tc *TestContext) Close() {
	tc.Cancel()
	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
}

// TestingT is an interface matching testing.T, letting Assertions and
// TestContext be used from both *testing.T and a scenario-runner's own
// minimal reporter.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}
