// Package scenario implements the deterministic test scripts the
// harness runs non-interactively, one per invocation, via
// --scenario <name> (exit 0/1).
package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/pubkey"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
	"github.com/msgmaxim/swarm-harness/pkg/testcontext"
)

// Env bundles together everything a scenario needs: the live swarm
// manager, the chain, and the oracle.
type Env struct {
	Manager *swarm.Manager
	Chain   *blockchain.Blockchain
	Ctx     *testcontext.Context
}

// Scenario is one named, runnable test script.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// All is the harness's registry of named scenarios, keyed by the names
// the CLI's --scenario flag accepts.
var All = map[string]Scenario{
	"single_node_one_message":         {Name: "single_node_one_message", Run: singleNodeOneMessage},
	"single_swarm_one_message":        {Name: "single_swarm_one_message", Run: singleSwarmOneMessage},
	"single_swarm_joined":             {Name: "single_swarm_joined", Run: singleSwarmJoined},
	"multiple_swarms_static":          {Name: "multiple_swarms_static", Run: multipleSwarmsStatic},
	"test_dissolving":                 {Name: "test_dissolving", Run: testDissolving},
	"test_retry_singles":              {Name: "test_retry_singles", Run: testRetrySingles},
	"test_retry_batches":              {Name: "test_retry_batches", Run: testRetryBatches},
	"test_bootstrapping_peer_big_data": {Name: "test_bootstrapping_peer_big_data", Run: testBootstrappingPeerBigData},
	"swarm_big_data":                  {Name: "swarm_big_data", Run: swarmBigData},
	"test_blocks":                     {Name: "test_blocks", Run: testBlocksShort},
}

func randomPubKey(rng *rand.Rand) pubkey.PubKey {
	return pubkey.GenRandom(rng)
}

func addNodes(env *Env, n int) []swarm.ServiceNode {
	nodes := make([]swarm.ServiceNode, n)
	for i := range nodes {
		sn, err := env.Ctx.AddSnodeWithOptions(swarm.SpawnLater)
		if err != nil {
			log.WithComponent("scenario").Error().Err(err).Msg("failed to allocate node for swarm setup")
			continue
		}
		nodes[i] = sn
	}
	return nodes
}

func expectNoLostMessages(result testcontext.CheckResult) error {
	if result.Lost > 0 {
		return fmt.Errorf("scenario: %d/%d messages lost", result.Lost, result.Passed+result.Lost)
	}
	return nil
}

func singleNodeOneMessage(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 1)
	env.Manager.AddSwarm(nodes)

	pk := randomPubKey(rand.New(rand.NewSource(1)))
	if err := env.Ctx.SendMessage(pk, "hello"); err != nil {
		return err
	}

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func singleSwarmOneMessage(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 3)
	env.Manager.AddSwarm(nodes)

	pk := randomPubKey(rand.New(rand.NewSource(2)))
	if err := env.Ctx.SendMessage(pk, "hello swarm"); err != nil {
		return err
	}

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func singleSwarmJoined(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 3)
	env.Manager.AddSwarm(nodes)

	pk := randomPubKey(rand.New(rand.NewSource(3)))
	if err := env.Ctx.SendMessage(pk, "first"); err != nil {
		return err
	}
	if err := env.Ctx.SendMessage(pk, "second"); err != nil {
		return err
	}

	if _, err := env.Ctx.AddSnodeWithOptions(swarm.SpawnNow); err != nil {
		return err
	}
	env.Chain.IncBlockHeight()

	time.Sleep(500 * time.Millisecond)
	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func multipleSwarmsStatic(ctx context.Context, env *Env) error {
	for i := 0; i < 3; i++ {
		nodes := addNodes(env, 2)
		env.Manager.AddSwarm(nodes)
	}

	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 6; i++ {
		if err := env.Ctx.SendMessage(randomPubKey(rng), fmt.Sprintf("msg-%d", i)); err != nil {
			return err
		}
	}

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func testDissolving(ctx context.Context, env *Env) error {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 3; i++ {
		nodes := addNodes(env, 1)
		env.Manager.AddSwarm(nodes)
		if err := env.Ctx.SendMessage(randomPubKey(rng), fmt.Sprintf("pre-dissolve-%d", i)); err != nil {
			return err
		}
	}

	env.Manager.DissolveSwarm(1)

	if err := env.Ctx.SendMessage(randomPubKey(rng), "post-dissolve"); err != nil {
		return err
	}

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func testRetrySingles(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 2)
	env.Manager.AddSwarm(nodes)

	disconnected, err := env.Manager.DisconnectSnode()
	if err != nil {
		return err
	}
	env.Ctx.MarkBad(disconnected)

	rng := rand.New(rand.NewSource(6))
	if err := env.Ctx.SendMessage(randomPubKey(rng), "during downtime"); err != nil {
		return err
	}

	if err := expectNoLostMessages(env.Ctx.CheckMessages()); err != nil {
		return err
	}

	time.Sleep(3 * time.Second)
	if err := env.Manager.RestoreSnode(disconnected); err != nil {
		return err
	}
	env.Ctx.ClearBad(disconnected)

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func testRetryBatches(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 1)
	env.Manager.AddSwarm(nodes)

	go func() {
		time.Sleep(3 * time.Second)
		if _, err := env.Ctx.AddSnodeWithOptions(swarm.SpawnNow); err != nil {
			log.WithComponent("scenario").Error().Err(err).Msg("delayed node registration failed")
			return
		}
		env.Chain.IncBlockHeight()
	}()

	rng := rand.New(rand.NewSource(7))
	if err := env.Ctx.SendMessage(randomPubKey(rng), "during registration window"); err != nil {
		return err
	}

	time.Sleep(4 * time.Second)
	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func fillWithMessages(ctx context.Context, env *Env, pk pubkey.PubKey, n int) error {
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(32)

	var mu sync.Mutex
	var firstErr error

	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			err := env.Ctx.SendMessage(pk, fmt.Sprintf("bulk-%d", i))
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return firstErr
}

func testBootstrappingPeerBigData(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 1)
	env.Manager.AddSwarm(nodes)

	pk := randomPubKey(rand.New(rand.NewSource(8)))
	if err := fillWithMessages(ctx, env, pk, 10000); err != nil {
		log.WithComponent("scenario").Warn().Err(err).Msg("some bulk sends failed")
	}

	if _, err := env.Ctx.AddSnodeWithOptions(swarm.SpawnNow); err != nil {
		return err
	}
	env.Chain.IncBlockHeight()

	time.Sleep(2 * time.Second)
	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func swarmBigData(ctx context.Context, env *Env) error {
	nodes := addNodes(env, 1)
	env.Manager.AddSwarm(nodes)

	pk := randomPubKey(rand.New(rand.NewSource(9)))
	if err := fillWithMessages(ctx, env, pk, 10000); err != nil {
		log.WithComponent("scenario").Warn().Err(err).Msg("some bulk sends failed")
	}

	newNodes := addNodes(env, 3)
	env.Manager.AddSwarm(newNodes)
	env.Chain.IncBlockHeight()

	time.Sleep(2 * time.Second)
	return expectNoLostMessages(env.Ctx.CheckMessages())
}

// TestBlocksOptions tunes the continuous test_blocks driver.
type TestBlocksOptions struct {
	Duration        time.Duration
	BlockInterval   time.Duration
	MessageInterval time.Duration
}

// testBlocksShort runs the continuous churn-and-message driver for a
// fixed short duration, suitable for --scenario mode.
func testBlocksShort(ctx context.Context, env *Env) error {
	return RunTestBlocks(ctx, env, TestBlocksOptions{
		Duration:        20 * time.Second,
		BlockInterval:   2 * time.Second,
		MessageInterval: 50 * time.Millisecond,
	})
}

// RunTestBlocks is the continuous churn-and-message scenario: one
// goroutine sends messages to random pubkeys out of a fixed pool while
// the caller's goroutine periodically adds/drops nodes and bumps the
// block height, for opts.Duration, before performing a final check.
func RunTestBlocks(ctx context.Context, env *Env, opts TestBlocksOptions) error {
	const poolSize = 100
	pool := make([]pubkey.PubKey, poolSize)
	seedRng := rand.New(rand.NewSource(42))
	for i := range pool {
		pool[i] = randomPubKey(seedRng)
	}

	var stop atomic.Bool
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(43))
		ticker := time.NewTicker(opts.MessageInterval)
		defer ticker.Stop()
		for !stop.Load() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pk := pool[rng.Intn(len(pool))]
				_ = env.Ctx.SendMessage(pk, fmt.Sprintf("block-driver-%d", rng.Uint64()))
			}
		}
	}()

	deadline := time.Now().Add(opts.Duration)
	rng := rand.New(rand.NewSource(44))
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			stop.Store(true)
			wg.Wait()
			return ctx.Err()
		case <-time.After(opts.BlockInterval):
		}

		total := countNodes(env.Manager)
		if total > 10 {
			drops := rng.Intn(3) + 1
			for i := 0; i < drops; i++ {
				_ = env.Manager.DropSnode()
			}
		}
		if total < 50 {
			adds := rng.Intn(3) + 1
			for i := 0; i < adds; i++ {
				if _, err := env.Ctx.AddSnodeWithOptions(swarm.SpawnNow); err != nil {
					log.WithComponent("scenario").Warn().Err(err).Msg("test_blocks: add failed")
				}
			}
		}
		env.Chain.IncBlockHeight()
	}

	stop.Store(true)
	wg.Wait()

	return expectNoLostMessages(env.Ctx.CheckMessages())
}

func countNodes(m *swarm.Manager) int {
	total := 0
	for _, sw := range m.Swarms() {
		total += len(sw.Nodes)
	}
	return total
}
