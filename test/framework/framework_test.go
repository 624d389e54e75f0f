package framework

import (
	"context"
	"testing"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
)

type noopSpawner struct{}

func (noopSpawner) Spawn(swarm.ServiceNode) error { return nil }
func (noopSpawner) Quit(swarm.ServiceNode)        {}
func (noopSpawner) QuitAll()                      {}

func TestWaitForSwarmCount(t *testing.T) {
	mgr := swarm.NewManager(noopSpawner{})
	w := NewWaiter(2*time.Second, 10*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		mgr.AddSwarm([]swarm.ServiceNode{{Port: "1"}, {Port: "2"}, {Port: "3"}})
	}()

	err := w.WaitForSwarmCount(context.Background(), mgr, 1)
	a := NewAssertions(t)
	a.NoError(err, "expected one swarm to appear")
	a.SwarmCount(1, mgr)
	a.TotalNodeCount(3, mgr)
	a.MinSwarmSizeHonored(mgr)
}

func TestWaitForBlockHeight(t *testing.T) {
	mgr := swarm.NewManager(noopSpawner{})
	bc := blockchain.New(mgr)
	w := NewWaiter(2*time.Second, 10*time.Millisecond)

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			bc.IncBlockHeight()
		}
	}()

	a := NewAssertions(t)
	a.NoError(w.WaitForBlockHeight(context.Background(), bc, bc.Height()+2), "expected height to advance")
}

func TestAssertionsBasics(t *testing.T) {
	a := NewAssertions(t)
	a.True(1+1 == 2, "arithmetic still works")
	a.False(1+1 == 3, "arithmetic still works")
	a.Equal(2, 1+1, "arithmetic still works")
	a.Contains("swarm-harness", "harness", "substring check")
}

func TestTestContextCleanupRunsInOrder(t *testing.T) {
	tc := NewTestContext(t, time.Second)
	var order []int
	tc.AddCleanup(func() { order = append(order, 1) })
	tc.AddCleanup(func() { order = append(order, 2) })
	tc.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected cleanup to run LIFO, got %v", order)
	}
}
