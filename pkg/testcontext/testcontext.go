// Package testcontext is the scenario-facing oracle: it sends messages
// through the storage-protocol client, tracks which ones it expects to
// find later, and checks the swarm for them.
package testcontext

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/keypool"
	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/metrics"
	"github.com/msgmaxim/swarm-harness/pkg/pubkey"
	"github.com/msgmaxim/swarm-harness/pkg/storageclient"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
)

const firstTestPort = 5901

// Context is the harness's test-side oracle, grounded on the original's
// TestContext: it owns the RNG used to synthesize pubkeys/messages, the
// expected-message ledger, and the set of nodes considered bad (recently
// disconnected) so checks can skip them without treating a miss as a
// failure.
type Context struct {
	mu sync.Mutex

	manager *swarm.Manager
	cache   *blockchain.Cache
	client  *storageclient.Client
	keys    *keypool.Pool

	expected    map[string][]string
	badSnodes   []swarm.ServiceNode
	rng         *rand.Rand
	latestPort  uint16
	rpcPort     uint16
}

// New creates a Context. The internal RNG is seeded deterministically
// (seed = 0), matching the original's StdRng::seed_from_u64(0). rpcPort is
// the mock lokid JSON-RPC port every spawned node is told to poll via
// --lokid-rpc-port, and is stamped onto every ServiceNode this context
// constructs.
func New(manager *swarm.Manager, cache *blockchain.Cache, keys *keypool.Pool, rpcPort uint16) *Context {
	return &Context{
		manager:    manager,
		cache:      cache,
		client:     storageclient.New(),
		keys:       keys,
		expected:   map[string][]string{},
		rng:        rand.New(rand.NewSource(0)),
		latestPort: firstTestPort,
		rpcPort:    rpcPort,
	}
}

// IsPortAvailable reports whether port can currently be bound, used to
// hand out a free port to a newly spawned node.
func IsPortAvailable(port uint16) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// nextFreePort scans upward from c.latestPort+1 (never recycling a lower
// port), matching the original's scan-to-7000 convention.
func (c *Context) nextFreePort() (uint16, error) {
	for p := c.latestPort + 1; p < 7000; p++ {
		if IsPortAvailable(p) {
			c.latestPort = p
			return p, nil
		}
	}
	return 0, fmt.Errorf("testcontext: no free port in range")
}

// SendMessage resolves pk's swarm, stores msg on the first node in it,
// and - only on success - records the message as expected. A failed
// store is silently dropped from the ledger; this is deliberate (see
// SPEC_FULL.md §9): it means check results can be wrong if the target node
// was the one just disconnected, which is a property under test, not a
// bug to paper over.
func (c *Context) SendMessage(pk pubkey.PubKey, msg string) error {
	idx := c.manager.GetSwarmByPK(pk.RoutingKey())
	swarms := c.manager.Swarms()
	if idx >= len(swarms) || len(swarms[idx].Nodes) == 0 {
		return fmt.Errorf("testcontext: no node available for pubkey %s", pk.String())
	}

	target := swarms[idx].Nodes[0]
	if err := c.client.Store(target.Port, pk.String(), msg); err != nil {
		log.WithPubKey(pk.String()).Warn().Err(err).Msg("send_message failed")
		return err
	}

	c.mu.Lock()
	c.expected[pk.String()] = append(c.expected[pk.String()], msg)
	c.mu.Unlock()

	metrics.MessagesSentTotal.Inc()
	return nil
}

// SendRandomMessage sends a message to a fresh random pubkey.
func (c *Context) SendRandomMessage() error {
	c.mu.Lock()
	pk := pubkey.GenRandom(c.rng)
	msg := c.randomMessageLocked()
	c.mu.Unlock()

	return c.SendMessage(pk, msg)
}

// SendRandomMessageToPK sends a freshly generated random message to an
// already-known pubkey.
func (c *Context) SendRandomMessageToPK(pk pubkey.PubKey) error {
	c.mu.Lock()
	msg := c.randomMessageLocked()
	c.mu.Unlock()

	return c.SendMessage(pk, msg)
}

func (c *Context) randomMessageLocked() string {
	return fmt.Sprintf("%03d", c.rng.Uint64()%1000)
}

// GetNewMessages fetches messages newer than lastHash for pk, from the
// first node in its swarm.
func (c *Context) GetNewMessages(pk pubkey.PubKey, lastHash string) []storageclient.Message {
	idx := c.manager.GetSwarmByPK(pk.RoutingKey())
	swarms := c.manager.Swarms()
	if idx >= len(swarms) || len(swarms[idx].Nodes) == 0 {
		return nil
	}
	return c.client.Retrieve(swarms[idx].Nodes[0].Port, pk.String(), lastHash)
}

// CheckResult summarizes one check_messages pass.
type CheckResult struct {
	Passed int
	Lost   int
}

// CheckMessages walks every pubkey this context has sent messages for,
// resolves its swarm, and asks the swarm's non-bad members in order for
// the pubkey's messages, stopping at the first member that returns any.
// Every expected message missing from that one reply counts as lost; the
// remaining members are not queried, and extra or duplicate messages in
// the reply are not reported. It prints "Test passed! (m/n messages)" or
// "Messages lost: k/n" and is the harness's single source of truth for
// "did the swarm lose data".
func (c *Context) CheckMessages() CheckResult {
	c.mu.Lock()
	expected := make(map[string][]string, len(c.expected))
	for pk, msgs := range c.expected {
		expected[pk] = append([]string(nil), msgs...)
	}
	bad := append([]swarm.ServiceNode(nil), c.badSnodes...)
	c.mu.Unlock()

	badSet := map[string]bool{}
	for _, n := range bad {
		badSet[n.Key()] = true
	}

	logger := log.WithComponent("test_context")
	var result CheckResult

	for pkHex, msgs := range expected {
		pk, err := pubkey.Parse(pkHex)
		if err != nil {
			continue
		}

		idx := c.manager.GetSwarmByPK(pk.RoutingKey())
		swarms := c.manager.Swarms()
		if idx >= len(swarms) {
			continue
		}

		var got []storageclient.Message
		for _, node := range swarms[idx].Nodes {
			if badSet[node.Key()] {
				continue
			}
			got = c.client.Retrieve(node.Port, pkHex, "")
			if len(got) > 0 {
				break
			}
		}

		gotData := map[string]bool{}
		for _, m := range got {
			gotData[m.Data] = true
		}

		for _, want := range msgs {
			metrics.MessagesTestedTotal.Inc()
			if gotData[want] {
				result.Passed++
			} else {
				result.Lost++
				metrics.MessagesLostTotal.Inc()
				logger.Warn().Str("pubkey", pkHex).Str("message", want).Msg("message lost")
			}
		}
	}

	total := result.Passed + result.Lost
	if result.Lost == 0 {
		fmt.Printf("Test passed! (%d/%d messages)\n", result.Passed, total)
		logger.Info().Int("passed", result.Passed).Int("total", total).Msg("test passed")
	} else {
		fmt.Printf("Messages lost: %d/%d\n", result.Lost, total)
		logger.Warn().Int("lost", result.Lost).Int("total", total).Msg("messages lost")
	}

	return result
}

// MarkBad records sn as disconnected so CheckMessages won't treat its
// absence as a lost message.
func (c *Context) MarkBad(sn swarm.ServiceNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badSnodes = append(c.badSnodes, sn)
}

// ClearBad stops treating sn as disconnected, e.g. after a RestoreSnode;
// other nodes marked bad stay marked.
func (c *Context) ClearBad(sn swarm.ServiceNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.badSnodes[:0]
	for _, n := range c.badSnodes {
		if n.Key() != sn.Key() {
			filtered = append(filtered, n)
		}
	}
	c.badSnodes = filtered
}

// AddSnodeWithOptions picks a free port and a key triple from the pool,
// then asks the manager to spawn and join it.
func (c *Context) AddSnodeWithOptions(strategy swarm.SpawnStrategy) (swarm.ServiceNode, error) {
	c.mu.Lock()
	port, err := c.nextFreePort()
	c.mu.Unlock()
	if err != nil {
		return swarm.ServiceNode{}, err
	}

	kt, err := c.keys.Pop()
	if err != nil {
		return swarm.ServiceNode{}, fmt.Errorf("testcontext: pop key triple: %w", err)
	}

	sn := swarm.ServiceNode{
		Port:         fmt.Sprintf("%d", port),
		LegacyPK:     kt.LegacyPK,
		LegacySK:     kt.LegacySK,
		Ed25519PK:    kt.Ed25519PK,
		Ed25519SK:    kt.Ed25519SK,
		X25519PK:     kt.X25519PK,
		X25519SK:     kt.X25519SK,
		LokidRPCPort: c.rpcPort,
	}

	if err := c.manager.AddSnode(sn, strategy); err != nil {
		return swarm.ServiceNode{}, err
	}
	return sn, nil
}

// PrintStats logs cumulative swarm-manager counters, mirroring the
// original's print_stats diagnostic.
func (c *Context) PrintStats() {
	stats := c.manager.Stats()
	log.WithComponent("test_context").Info().Uint64("dissolved", stats.Dissolved).Msg("stats")
}
