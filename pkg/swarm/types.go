// Package swarm implements the sharded-membership state machine: it
// assigns service nodes to swarms, splits/merges swarms on churn, and maps
// a client public key to exactly one swarm via ring placement.
package swarm

import (
	"math"
)

// MinSwarmSize is the minimum number of nodes the rebalancer fights to
// keep in every swarm.
const MinSwarmSize = 3

// maxRingValue is the ring-distance sentinel used by GetSwarmByPK. It is
// deliberately one less than math.MaxUint64 — GetNextSwarmID uses the full
// math.MaxUint64 as its own, different, sentinel. Both values are load
// bearing; see DESIGN.md's "sentinel asymmetry" note.
const maxRingValue = math.MaxUint64 - 1

// ServiceNode is an immutable record identifying one managed
// storage-server instance.
type ServiceNode struct {
	Port          string
	LegacyPK      string
	LegacySK      string
	Ed25519PK     string
	Ed25519SK     string
	X25519PK      string
	X25519SK      string
	LokidRPCPort  uint16
}

// Key returns the identity used to key supervisor/child maps: the port is
// unique per node for the lifetime of the harness.
func (sn ServiceNode) Key() string {
	return sn.Port
}

// Swarm is a set of service nodes responsible for one arc of the ring.
type Swarm struct {
	SwarmID uint64
	Nodes   []ServiceNode
}

// clone makes a deep-enough copy for snapshotting: the Nodes slice is
// copied so callers can't mutate a manager's live state through a
// snapshot.
func (s Swarm) clone() Swarm {
	nodes := make([]ServiceNode, len(s.Nodes))
	copy(nodes, s.Nodes)
	return Swarm{SwarmID: s.SwarmID, Nodes: nodes}
}

// Stats tracks cumulative swarm-manager counters.
type Stats struct {
	Dissolved uint64
}

// SpawnStrategy controls whether AddSnode spawns the node's process
// immediately or only registers it, deferring the spawn to a later
// RestoreSnode call.
type SpawnStrategy int

const (
	SpawnNow SpawnStrategy = iota
	SpawnLater
)
