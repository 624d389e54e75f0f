// Package blockchain provides the mock chain-height oracle the harness
// exposes over RPC in place of a real service-node-registration chain,
// plus a poll-based snapshot cache that lets readers avoid taking the
// swarm manager's lock on every request.
package blockchain

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
)

// initialHeight is the height the chain starts at. The harness's
// original Rust variants disagreed (1 in one, 2 in another); 20 is this
// harness's own normalized starting point.
const initialHeight = 20

// HardforkHeight is the fixed hardfork value reported in every
// get_n_service_nodes response. It does not depend on the chain height,
// and the response shape is the same at every height.
const HardforkHeight = 15

// Blockchain is the mock chain: an incrementing height plus a pseudo
// block hash, backed by the live swarm.Manager for its service-node view.
type Blockchain struct {
	mu         sync.Mutex
	height     uint64
	blockHash  string
	manager    *swarm.Manager
}

// New creates a Blockchain starting at initialHeight with a freshly
// generated genesis block hash.
func New(manager *swarm.Manager) *Blockchain {
	return &Blockchain{
		height:    initialHeight,
		blockHash: genRandomHash(),
		manager:   manager,
	}
}

// Height returns the current block height.
func (b *Blockchain) Height() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

// BlockHash returns the current (pseudo) block hash.
func (b *Blockchain) BlockHash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockHash
}

// IncBlockHeight advances the chain by one block, generating a fresh
// block hash.
func (b *Blockchain) IncBlockHeight() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.height++
	b.blockHash = genRandomHash()
	log.WithComponent("blockchain").Debug().Uint64("height", b.height).Msg("advanced block height")
}

// Manager exposes the underlying swarm manager for components (RPC
// server, snapshot cache) that need the live membership view.
func (b *Blockchain) Manager() *swarm.Manager {
	return b.manager
}

func genRandomHash() string {
	var words [4]uint64
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// there is nothing sane to do but degrade to an all-zero hash
		// rather than crash a running test harness.
		return fmt.Sprintf("%016x%016x%016x%016x", 0, 0, 0, 0)
	}
	for i := range words {
		var w uint64
		for j := 0; j < 8; j++ {
			w = w<<8 | uint64(buf[i*8+j])
		}
		words[i] = w
	}
	return fmt.Sprintf("%016x%016x%016x%016x", words[0], words[1], words[2], words[3])
}

// Snapshot is a point-in-time, lock-free-to-read copy of the chain and
// swarm state, matching the original's BlockchainData.
type Snapshot struct {
	Swarms    []swarm.Swarm
	Height    uint64
	BlockHash string
}

// Cache polls Blockchain+Manager on a fixed interval and serves the most
// recent Snapshot without requiring callers to take the live locks. It is
// the direct analogue of the original's BlockchainView poller thread.
type Cache struct {
	bc       *Blockchain
	interval time.Duration

	mu       sync.Mutex
	current  Snapshot

	stop chan struct{}
	done chan struct{}
}

// NewCache creates a Cache that polls bc every interval. Call Start to
// begin polling.
func NewCache(bc *Blockchain, interval time.Duration) *Cache {
	return &Cache{
		bc:       bc,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poller goroutine. Each refresh takes the manager,
// Blockchain and cache locks one at a time and never holds two at once,
// so it cannot deadlock against other Blockchain/Manager callers.
func (c *Cache) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.refresh()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.refresh()
			}
		}
	}()
}

func (c *Cache) refresh() {
	snap := Snapshot{
		Swarms:    c.bc.Manager().Swarms(),
		Height:    c.bc.Height(),
		BlockHash: c.bc.BlockHash(),
	}

	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
}

// Get returns the most recently polled snapshot.
func (c *Cache) Get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop halts the poller and waits for it to exit.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}
