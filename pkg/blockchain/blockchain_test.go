package blockchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msgmaxim/swarm-harness/pkg/swarm"
)

type noopSpawner struct{}

func (noopSpawner) Spawn(swarm.ServiceNode) error { return nil }
func (noopSpawner) Quit(swarm.ServiceNode)        {}
func (noopSpawner) QuitAll()                      {}

func TestNewStartsAtInitialHeight(t *testing.T) {
	bc := New(swarm.NewManager(noopSpawner{}))
	require.Equal(t, uint64(initialHeight), bc.Height())
	require.NotEmpty(t, bc.BlockHash())
}

func TestIncBlockHeightAdvancesAndChangesHash(t *testing.T) {
	bc := New(swarm.NewManager(noopSpawner{}))
	before := bc.BlockHash()
	bc.IncBlockHeight()
	require.Equal(t, uint64(initialHeight+1), bc.Height())
	require.NotEqual(t, before, bc.BlockHash())
}

func TestCacheReflectsManagerState(t *testing.T) {
	mgr := swarm.NewManager(noopSpawner{})
	bc := New(mgr)
	mgr.AddSwarm([]swarm.ServiceNode{{Port: "1"}, {Port: "2"}, {Port: "3"}})

	cache := NewCache(bc, 10*time.Millisecond)
	cache.Start()
	defer cache.Stop()

	require.Eventually(t, func() bool {
		return len(cache.Get().Swarms) == 1
	}, time.Second, 5*time.Millisecond)
}
