package framework

import (
	"context"
	"strings"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
	"github.com/msgmaxim/swarm-harness/pkg/testcontext"
)

// Assertions provides test assertion helpers, both swarm-domain
// specific and generic, over a TestingT so they work identically in a
// *testing.T test and a scenario-runner's own reporting.
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance.
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// SwarmCount asserts the manager currently holds exactly expected swarms.
func (a *Assertions) SwarmCount(expected int, mgr *swarm.Manager) {
	a.t.Helper()

	got := len(mgr.Swarms())
	if got != expected {
		a.t.Fatalf("manager has %d swarms, expected %d", got, expected)
	}
}

// TotalNodeCount asserts the manager's swarms collectively hold
// exactly expected service nodes.
func (a *Assertions) TotalNodeCount(expected int, mgr *swarm.Manager) {
	a.t.Helper()

	total := 0
	for _, sw := range mgr.Swarms() {
		total += len(sw.Nodes)
	}
	if total != expected {
		a.t.Fatalf("manager holds %d service nodes, expected %d", total, expected)
	}
}

// MinSwarmSizeHonored asserts that every swarm except possibly the
// last-remaining one has at least swarm.MinSwarmSize nodes.
func (a *Assertions) MinSwarmSizeHonored(mgr *swarm.Manager) {
	a.t.Helper()

	swarms := mgr.Swarms()
	if len(swarms) <= 1 {
		return
	}
	for _, sw := range swarms {
		if len(sw.Nodes) < swarm.MinSwarmSize {
			a.t.Fatalf("swarm %d has %d nodes, below minimum %d", sw.SwarmID, len(sw.Nodes), swarm.MinSwarmSize)
		}
	}
}

// BlockHeightAtLeast asserts the chain has reached at least height.
func (a *Assertions) BlockHeightAtLeast(bc *blockchain.Blockchain, height uint64) {
	a.t.Helper()

	if got := bc.Height(); got < height {
		a.t.Fatalf("block height is %d, expected at least %d", got, height)
	}
}

// NoMessagesLost asserts that a CheckMessages pass reports zero losses.
func (a *Assertions) NoMessagesLost(result testcontext.CheckResult) {
	a.t.Helper()

	if result.Lost > 0 {
		a.t.Fatalf("%d of %d tracked messages were lost", result.Lost, result.Passed+result.Lost)
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs.
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("timeout waiting for condition: %s (timeout: %v)", msg, timeout)
			return
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context.
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
			return
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// NoError asserts that the error is nil.
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil.
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal.
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// NotEqual asserts that two values are not equal.
func (a *Assertions) NotEqual(expected, actual interface{}, msg string) {
	a.t.Helper()
	if expected == actual {
		a.t.Fatalf("%s: expected values to be different, but both are %v", msg, expected)
	}
}

// True asserts that a condition is true.
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()
	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// False asserts that a condition is false.
func (a *Assertions) False(condition bool, msg string) {
	a.t.Helper()
	if condition {
		a.t.Fatalf("%s: expected false, got true", msg)
	}
}

// Contains asserts that a string contains a substring.
func (a *Assertions) Contains(haystack, needle, msg string) {
	a.t.Helper()
	if !strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q to contain %q", msg, haystack, needle)
	}
}

// NotContains asserts that a string does not contain a substring.
func (a *Assertions) NotContains(haystack, needle, msg string) {
	a.t.Helper()
	if strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q not to contain %q", msg, haystack, needle)
	}
}

// Len asserts that a slice or map has a specific length.
func (a *Assertions) Len(obj interface{}, expected int, msg string) {
	a.t.Helper()

	var length int
	switch v := obj.(type) {
	case []interface{}:
		length = len(v)
	case map[string]interface{}:
		length = len(v)
	case string:
		length = len(v)
	case []swarm.ServiceNode:
		length = len(v)
	case []swarm.Swarm:
		length = len(v)
	default:
		a.t.Fatalf("%s: unsupported type for Len assertion: %T", msg, obj)
		return
	}

	if length != expected {
		a.t.Fatalf("%s: expected length %d, got %d", msg, expected, length)
	}
}

// Nil asserts that a value is nil.
func (a *Assertions) Nil(obj interface{}, msg string) {
	a.t.Helper()
	if obj != nil {
		a.t.Fatalf("%s: expected nil, got %v", msg, obj)
	}
}

// NotNil asserts that a value is not nil.
func (a *Assertions) NotNil(obj interface{}, msg string) {
	a.t.Helper()
	if obj == nil {
		a.t.Fatalf("%s: expected non-nil value", msg)
	}
}

// Logf logs a formatted message (non-failing).
func (a *Assertions) Logf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Logf(format, args...)
}

// Log logs a message (non-failing).
func (a *Assertions) Log(msg string) {
	a.t.Helper()
	a.t.Logf("%s", msg)
}

// Step logs a test step, for visibility in test output.
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Errorf logs an error and fails the test.
func (a *Assertions) Errorf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Errorf(format, args...)
}

// Fatalf logs a fatal error and stops the test immediately.
func (a *Assertions) Fatalf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Fatalf(format, args...)
}

// FailNow fails the test immediately without logging.
func (a *Assertions) FailNow() {
	a.t.Helper()
	a.t.FailNow()
}

// Fail marks the test as failed but continues execution.
func (a *Assertions) Fail(msg string) {
	a.t.Helper()
	a.t.Errorf("test failed: %s", msg)
}
