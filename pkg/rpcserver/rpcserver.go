// Package rpcserver serves the mock control-plane's JSON-RPC-over-HTTP
// endpoint on a single path, POST /json_rpc, the way a real lokid would
// for a storage server polling for its swarm assignment and peer health.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/metrics"
)

// Server serves the JSON-RPC control-plane endpoint. Its Start/Stop shape
// mirrors the teacher's api.Server, adapted from gRPC to a plain
// net/http.Server since this protocol is flat JSON-RPC, not a typed
// service definition.
type Server struct {
	cache *blockchain.Cache
	http  *http.Server
}

// request is the generic JSON-RPC envelope every method shares.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// serviceNodeState is one row of get_n_service_nodes's result, matching
// the fields a real lokid reports about a storage server's swarm
// membership and liveness.
type serviceNodeState struct {
	ServiceNodePubkey string `json:"service_node_pubkey"`
	PubkeyX25519      string `json:"pubkey_x25519"`
	PubkeyEd25519     string `json:"pubkey_ed25519"`
	OperatorAddress   string `json:"operator_address"`
	SecretKey         string `json:"secret_key"`
	PublicIP          string `json:"public_ip"`
	StoragePort       uint16 `json:"storage_port"`
	StorageLMQPort    uint16 `json:"storage_lmq_port"`
	SwarmID           uint64 `json:"swarm_id"`
	Funded            bool   `json:"funded"`
}

type getServiceNodesResult struct {
	ServiceNodeStates []serviceNodeState `json:"service_node_states"`
	Height            uint64             `json:"height"`
	TargetHeight      uint64             `json:"target_height"`
	BlockHash         string             `json:"block_hash"`
	Hardfork          int                `json:"hardfork"`
}

type blockchainTestResult struct {
	ResHeight uint64 `json:"res_height"`
}

type pingResult struct {
	Status string `json:"status"`
}

// New creates a Server that reads swarm/chain state from cache. addr is
// not bound until Start is called.
func New(cache *blockchain.Cache) *Server {
	return &Server{cache: cache}
}

// Start listens on addr (e.g. ":22029") and blocks serving requests until
// Stop is called or the listener errors. Run it in its own goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/json_rpc", s.handleJSONRPC)
	mux.HandleFunc("/", handleUnknownPath)

	s.http = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	log.WithComponent("rpc_server").Info().Str("addr", addr).Msg("rpc server listening")
	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := log.WithComponent("rpc_server")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("unparseable rpc request")
		writeEmpty(w)
		metrics.RPCRequestsTotal.WithLabelValues("", "error").Inc()
		metrics.RPCRequestDuration.WithLabelValues("").Observe(time.Since(start).Seconds())
		return
	}

	var result interface{}

	unknown := false
	switch req.Method {
	case "get_n_service_nodes":
		result = s.getNServiceNodes()
	case "perform_blockchain_test":
		result = blockchainTestResult{ResHeight: 123}
	case "storage_server_ping":
		result = pingResult{Status: "OK"}
	case "report_peer_storage_server_status":
		result = pingResult{Status: "OK"}
	default:
		unknown = true
		logger.Warn().Str("method", req.Method).Msg("unhandled rpc method")
	}

	status := "ok"
	if unknown {
		status = "error"
		writeEmpty(w)
	} else {
		writeResult(w, result)
	}

	metrics.RPCRequestsTotal.WithLabelValues(req.Method, status).Inc()
	metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
}

// handleUnknownPath answers any request outside /json_rpc with an empty
// 200 body, matching a real lokid's behavior for unrecognized endpoints.
func handleUnknownPath(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getNServiceNodes() getServiceNodesResult {
	snap := s.cache.Get()

	var states []serviceNodeState
	for _, sw := range snap.Swarms {
		for _, n := range sw.Nodes {
			states = append(states, serviceNodeState{
				ServiceNodePubkey: n.LegacyPK,
				PubkeyX25519:      n.X25519PK,
				PubkeyEd25519:     n.Ed25519PK,
				OperatorAddress:   "test",
				SecretKey:         n.LegacySK,
				PublicIP:          "localhost",
				StoragePort:       portToUint16(n.Port),
				StorageLMQPort:    portToUint16(n.Port) + 200,
				SwarmID:           sw.SwarmID,
				Funded:            true,
			})
		}
	}

	return getServiceNodesResult{
		ServiceNodeStates: states,
		Height:            snap.Height,
		TargetHeight:      snap.Height,
		BlockHash:         snap.BlockHash,
		Hardfork:          blockchain.HardforkHeight,
	}
}

func portToUint16(port string) uint16 {
	var v uint16
	for _, c := range port {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + uint16(c-'0')
	}
	return v
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{Result: result})
}

// writeEmpty answers with HTTP 200 and no body, the contract for unknown
// methods, unparseable requests, and any non-/json_rpc path.
func writeEmpty(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}
