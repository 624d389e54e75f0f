package swarm

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/msgmaxim/swarm-harness/pkg/log"
)

// Spawner abstracts process supervision so the manager can be unit tested
// without a real storage-server binary. A production Manager is
// constructed with a pkg/supervisor.Supervisor, which satisfies this
// interface.
type Spawner interface {
	// Spawn starts a child process for sn and registers it under sn.Key().
	// A failed spawn is reported via err but must not be treated as fatal
	// by the caller (see SPEC_FULL.md §9 "AddSwarm leaves a node..." note).
	Spawn(sn ServiceNode) error

	// Quit best-effort asks the node to exit (e.g. POST /quit) and removes
	// it from the supervisor's live-child map. It does not error if the
	// node is already gone.
	Quit(sn ServiceNode)

	// QuitAll quits every currently supervised child.
	QuitAll()
}

// Manager is the sharded-membership state machine described in
// SPEC_FULL.md §4.3. All exported mutating methods are safe for
// concurrent use; they serialize through mu.
type Manager struct {
	mu sync.Mutex

	swarms []Swarm
	stats  Stats
	rng    *rand.Rand
	spawn  Spawner
}

// NewManager creates a SwarmManager seeded deterministically (seed = 1),
// matching the original's StdRng::seed_from_u64(1).
func NewManager(spawn Spawner) *Manager {
	return &Manager{
		swarms: nil,
		stats:  Stats{},
		rng:    rand.New(rand.NewSource(1)),
		spawn:  spawn,
	}
}

// Swarms returns a deep copy of the current swarm list, safe to read
// without holding m's lock afterwards.
func (m *Manager) Swarms() []Swarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Swarm {
	out := make([]Swarm, len(m.swarms))
	for i, s := range m.swarms {
		out[i] = s.clone()
	}
	return out
}

// Stats returns a copy of the cumulative counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Reset quits every child and clears all swarm state, re-seeding the RNG
// so a fresh run is reproducible again.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spawn.QuitAll()
	m.swarms = nil
	m.stats = Stats{}
	m.rng = rand.New(rand.NewSource(1))
}

// AddSwarm assigns a fresh swarm ID, attempts to spawn every supplied
// node, and inserts the swarm unconditionally (spawn failures are logged,
// not fatal to the operation - see SPEC_FULL.md §9).
func (m *Manager) AddSwarm(nodes []ServiceNode) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	swarmID := m.nextSwarmIDLocked()

	logger := log.WithComponent("swarm_manager")
	logger.Info().Uint64("swarm_id", swarmID).Int("node_count", len(nodes)).Msg("adding swarm")

	for _, n := range nodes {
		if err := m.spawn.Spawn(n); err != nil {
			logger.Error().Err(err).Str("port", n.Port).Msg("could not spawn node, keeping it in swarm record anyway")
		}
	}

	m.swarms = append(m.swarms, Swarm{SwarmID: swarmID, Nodes: nodes})
	return swarmID
}

// DissolveSwarm removes the swarm at idx and re-homes each of its nodes to
// a uniformly-random surviving swarm. Refuses (no-op) if it is the only
// swarm.
func (m *Manager) DissolveSwarm(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dissolveSwarmLocked(idx)
}

func (m *Manager) dissolveSwarmLocked(idx int) {
	logger := log.WithComponent("swarm_manager")

	if idx < 0 || idx >= len(m.swarms) {
		logger.Error().Int("idx", idx).Msg("dissolve_swarm: index out of range")
		return
	}

	if len(m.swarms) == 1 {
		logger.Warn().Msg("would dissolve the last swarm, keeping it alive instead")
		return
	}

	logger.Warn().Uint64("swarm_id", m.swarms[idx].SwarmID).Msg("dissolving swarm")

	m.stats.Dissolved++

	dissolved := m.swarms[idx]
	m.swarms = append(m.swarms[:idx], m.swarms[idx+1:]...)

	for _, node := range dissolved.Nodes {
		target := m.rng.Intn(len(m.swarms))
		m.swarms[target].Nodes = append(m.swarms[target].Nodes, node)
	}
}

// GetSwarmByPK returns the index into Swarms() whose swarm_id is closest
// (on the ring, wrap-around included) to routingKey. See SPEC_FULL.md
// §4.2 for the exact algorithm, including the MAX-1 sentinel used here
// (contrast with GetNextSwarmID's MAX sentinel).
func (m *Manager) GetSwarmByPK(routingKey uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSwarmByPKLocked(routingKey)
}

func (m *Manager) getSwarmByPKLocked(r uint64) int {
	var (
		curBest      int
		minDist      uint64 = ^uint64(0)
		leftmost     uint64 = ^uint64(0)
		leftmostIdx  int
		rightmost    uint64
		rightmostIdx int
	)

	for idx, sw := range m.swarms {
		var dist uint64
		if sw.SwarmID > r {
			dist = sw.SwarmID - r
		} else {
			dist = r - sw.SwarmID
		}
		if dist < minDist {
			minDist = dist
			curBest = idx
		}

		if sw.SwarmID < leftmost {
			leftmost = sw.SwarmID
			leftmostIdx = idx
		}
		if sw.SwarmID > rightmost {
			rightmost = sw.SwarmID
			rightmostIdx = idx
		}
	}

	if r > rightmost {
		dist := (maxRingValue - r) + leftmost
		if dist < minDist {
			curBest = leftmostIdx
		}
	} else if r < leftmost {
		dist := r + (maxRingValue - rightmost)
		if dist < minDist {
			curBest = rightmostIdx
		}
	}

	return curBest
}

// GetNextSwarmID picks the swarm ID that maximises the minimum distance to
// the next existing ID. Uses math.MaxUint64 as its sentinel, which is
// intentionally different from GetSwarmByPK's MAX-1 (see DESIGN.md).
func (m *Manager) GetNextSwarmID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSwarmIDLocked()
}

func (m *Manager) nextSwarmIDLocked() uint64 {
	return nextSwarmID(idsOf(m.swarms))
}

func idsOf(swarms []Swarm) []uint64 {
	ids := make([]uint64, len(swarms))
	for i, s := range swarms {
		ids[i] = s.SwarmID
	}
	return ids
}

func nextSwarmID(ids []uint64) uint64 {
	const sentinel = ^uint64(0) // math.MaxUint64

	switch len(ids) {
	case 0:
		return 0
	case 1:
		return sentinel/2 + 1
	}

	sorted := append([]uint64(nil), ids...)
	sortUint64s(sorted)

	bestIdx := 0
	var bestDist uint64
	for i := range sorted {
		var next uint64
		if i+1 < len(sorted) {
			next = sorted[i+1]
		} else {
			next = sentinel
		}
		dist := next - sorted[i]
		if dist > bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	return sorted[bestIdx] + bestDist/2
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// DisconnectSnode picks a uniformly random swarm and node, sends it
// /quit, and removes it from the supervisor's live map without altering
// swarm membership (see RestoreSnode). Returns the disconnected node.
func (m *Manager) DisconnectSnode() (ServiceNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.swarms) == 0 {
		return ServiceNode{}, fmt.Errorf("swarm: no swarms to disconnect from")
	}

	swarmIdx := m.rng.Intn(len(m.swarms))
	swarm := m.swarms[swarmIdx]
	if len(swarm.Nodes) == 0 {
		return ServiceNode{}, fmt.Errorf("swarm: chosen swarm has no nodes")
	}
	nodeIdx := m.rng.Intn(len(swarm.Nodes))
	node := swarm.Nodes[nodeIdx]

	m.spawn.Quit(node)
	log.WithComponent("swarm_manager").Warn().Str("port", node.Port).Msg("disconnected snode")

	return node, nil
}

// RestoreSnode re-spawns a previously disconnected (or delayed) node and
// re-registers it with the supervisor, without touching swarm membership.
func (m *Manager) RestoreSnode(sn ServiceNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.spawn.Spawn(sn); err != nil {
		log.WithComponent("swarm_manager").Error().Err(err).Str("port", sn.Port).Msg("failed to restore snode")
		return err
	}
	return nil
}

// DropSnode removes a uniformly random node from a uniformly random
// swarm, quits it, and rebalances (steal-from-big-swarm, else dissolve)
// if the depleted swarm falls below MinSwarmSize.
func (m *Manager) DropSnode() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.swarms) == 0 {
		return fmt.Errorf("swarm: no swarms to drop from")
	}

	logger := log.WithComponent("swarm_manager")

	swarmIdx := m.rng.Intn(len(m.swarms))
	swarm := &m.swarms[swarmIdx]
	if len(swarm.Nodes) == 0 {
		return fmt.Errorf("swarm: chosen swarm has no nodes")
	}
	nodeIdx := m.rng.Intn(len(swarm.Nodes))
	node := swarm.Nodes[nodeIdx]
	swarm.Nodes = append(swarm.Nodes[:nodeIdx], swarm.Nodes[nodeIdx+1:]...)

	logger.Warn().Str("port", node.Port).Uint64("swarm_id", swarm.SwarmID).Msg("dropping snode")
	m.spawn.Quit(node)

	m.handleDroppedLocked(swarmIdx)
	return nil
}

// handleDroppedLocked enforces MinSwarmSize after a node removal: steal a
// node from a "big" swarm (> MinSwarmSize) if one exists, else dissolve
// the depleted swarm.
func (m *Manager) handleDroppedLocked(swarmIdx int) {
	logger := log.WithComponent("swarm_manager")

	if len(m.swarms[swarmIdx].Nodes) >= MinSwarmSize {
		return
	}

	// Among all "big" swarms, pick uniformly at random, matching the
	// source's choose_mut over the filtered set.
	var bigCandidates []int
	for i, s := range m.swarms {
		if len(s.Nodes) > MinSwarmSize {
			bigCandidates = append(bigCandidates, i)
		}
	}
	logger.Info().Int("candidate_count", len(bigCandidates)).Msg("have swarms to steal from")

	if len(bigCandidates) > 0 {
		bigIdx := bigCandidates[m.rng.Intn(len(bigCandidates))]
		big := &m.swarms[bigIdx]
		movIdx := m.rng.Intn(len(big.Nodes))
		movNode := big.Nodes[movIdx]
		big.Nodes = append(big.Nodes[:movIdx], big.Nodes[movIdx+1:]...)

		depleted := &m.swarms[swarmIdx]
		logger.Warn().Str("port", movNode.Port).Uint64("from_swarm", big.SwarmID).Uint64("to_swarm", depleted.SwarmID).Msg("moved snode to depleted swarm")
		depleted.Nodes = append(depleted.Nodes, movNode)
		return
	}

	m.dissolveSwarmLocked(swarmIdx)
}

// AddSnode joins sn to a uniformly random existing swarm, spawning it per
// strategy, then splits off a fresh 3-node swarm if the accumulated
// "extra" population across swarms now exceeds MinSwarmSize.
func (m *Manager) AddSnode(sn ServiceNode, strategy SpawnStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := log.WithComponent("swarm_manager")
	logger.Warn().Str("port", sn.Port).Msg("new snode")

	if strategy == SpawnNow {
		if err := m.spawn.Spawn(sn); err != nil {
			return fmt.Errorf("swarm: spawn service node: %w", err)
		}
	}

	if len(m.swarms) == 0 {
		return fmt.Errorf("swarm: no swarms exist to join")
	}

	randSwarm := m.rng.Intn(len(m.swarms))
	logger.Info().Uint64("swarm_id", m.swarms[randSwarm].SwarmID).Msg("choosing swarm")
	m.swarms[randSwarm].Nodes = append(m.swarms[randSwarm].Nodes, sn)

	var totalExtra int
	for _, s := range m.swarms {
		if len(s.Nodes) > MinSwarmSize {
			totalExtra += len(s.Nodes) - MinSwarmSize
		}
	}
	logger.Info().Int("total_extra", totalExtra).Msg("total extra")

	if totalExtra > MinSwarmSize {
		var nodesToMove []ServiceNode
		for len(nodesToMove) < MinSwarmSize {
			candidate := m.rng.Intn(len(m.swarms))
			if len(m.swarms[candidate].Nodes) <= MinSwarmSize {
				continue
			}
			idx := m.rng.Intn(len(m.swarms[candidate].Nodes))
			node := m.swarms[candidate].Nodes[idx]
			m.swarms[candidate].Nodes = append(m.swarms[candidate].Nodes[:idx], m.swarms[candidate].Nodes[idx+1:]...)
			nodesToMove = append(nodesToMove, node)
		}

		newID := m.nextSwarmIDLocked()
		logger.Warn().Uint64("swarm_id", newID).Msg("using as new swarm id")
		m.swarms = append(m.swarms, Swarm{SwarmID: newID, Nodes: nodesToMove})
	}

	return nil
}

// QuitChildren sends /quit to every live child and waits for exit.
// Idempotent with respect to already-exited children.
func (m *Manager) QuitChildren() {
	m.spawn.QuitAll()
}
