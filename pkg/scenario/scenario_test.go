package scenario

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/keypool"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
	"github.com/msgmaxim/swarm-harness/pkg/testcontext"
)

// fakeSpawner stands in for the supervisor: instead of forking the real
// storage-server binary, Spawn binds an httptest TLS server on the
// node's assigned port so the RPC contract scenarios rely on
// (store/retrieve) actually works end to end.
type fakeSpawner struct {
	mu      sync.Mutex
	servers map[string]*httptest.Server
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{servers: map[string]*httptest.Server{}}
}

func (f *fakeSpawner) Spawn(sn swarm.ServiceNode) error {
	stored := map[string][]string{}
	var storeMu sync.Mutex

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Method string `json:"method"`
			Params struct {
				PubKey string `json:"pubKey"`
				Data   string `json:"data"`
			} `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&envelope)

		storeMu.Lock()
		defer storeMu.Unlock()

		switch envelope.Method {
		case "store":
			stored[envelope.Params.PubKey] = append(stored[envelope.Params.PubKey], envelope.Params.Data)
			w.WriteHeader(http.StatusOK)
		case "retrieve":
			w.Header().Set("Content-Type", "application/json")
			msgs := []map[string]string{}
			for _, d := range stored[envelope.Params.PubKey] {
				msgs = append(msgs, map[string]string{"data": d, "hash": d})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": msgs})
		}
	})

	ts := httptest.NewUnstartedServer(handler)
	_ = ts.Listener.Close()

	l, err := net.Listen("tcp", "127.0.0.1:"+sn.Port)
	if err != nil {
		return err
	}
	ts.Listener = l
	ts.StartTLS()

	f.mu.Lock()
	f.servers[sn.Port] = ts
	f.mu.Unlock()
	return nil
}

func (f *fakeSpawner) Quit(sn swarm.ServiceNode) {
	f.mu.Lock()
	ts, ok := f.servers[sn.Port]
	delete(f.servers, sn.Port)
	f.mu.Unlock()
	if ok {
		ts.Close()
	}
}

func (f *fakeSpawner) QuitAll() {
	f.mu.Lock()
	servers := f.servers
	f.servers = map[string]*httptest.Server{}
	f.mu.Unlock()
	for _, ts := range servers {
		ts.Close()
	}
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()

	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.txt")
	lines := ""
	for i := 0; i < 64; i++ {
		lines += "lsk lpk esk epk xsk xpk\n"
	}
	require.NoError(t, os.WriteFile(keysPath, []byte(lines), 0o600))
	keys, err := keypool.Load(keysPath)
	require.NoError(t, err)

	mgr := swarm.NewManager(newFakeSpawner())
	bc := blockchain.New(mgr)
	cache := blockchain.NewCache(bc, 0)
	tc := testcontext.New(mgr, cache, keys, 22029)

	return &Env{Manager: mgr, Chain: bc, Ctx: tc}
}

func TestSingleNodeOneMessagePasses(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, singleNodeOneMessage(context.Background(), env))
}

func TestSingleSwarmOneMessagePasses(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, singleSwarmOneMessage(context.Background(), env))
}

func TestMultipleSwarmsStaticPasses(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, multipleSwarmsStatic(context.Background(), env))
}

func TestDissolvingPasses(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, testDissolving(context.Background(), env))
}

func TestAllScenariosRegistered(t *testing.T) {
	for _, name := range []string{
		"single_node_one_message",
		"single_swarm_one_message",
		"single_swarm_joined",
		"multiple_swarms_static",
		"test_dissolving",
		"test_retry_singles",
		"test_retry_batches",
		"test_bootstrapping_peer_big_data",
		"swarm_big_data",
		"test_blocks",
	} {
		sc, ok := All[name]
		require.True(t, ok, "scenario %q must be registered", name)
		require.Equal(t, name, sc.Name)
		require.NotNil(t, sc.Run)
	}
}
