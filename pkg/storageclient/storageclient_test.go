package storageclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()[len("127.0.0.1:"):]
}

func TestStoreSendsExpectedEnvelope(t *testing.T) {
	var captured storeBody
	port := startTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/storage_rpc/v1", r.URL.Path)
		require.Equal(t, ephemKeyValue, r.Header.Get(ephemKeyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	})

	c := New()
	err := c.Store(port, "deadbeef", "hello")
	require.NoError(t, err)

	require.Equal(t, "store", captured.Method)
	require.Equal(t, "05deadbeef", captured.Params.PubKey)
	require.Equal(t, "86400000", captured.Params.TTL)
	require.Equal(t, "324324", captured.Params.Nonce)
	require.Equal(t, "hello", captured.Params.Data)
}

func TestStoreReturnsErrorOnNon2xx(t *testing.T) {
	port := startTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := New()
	err := c.Store(port, "deadbeef", "hello")
	require.Error(t, err)
}

func TestRetrieveParsesMessages(t *testing.T) {
	port := startTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var captured retrieveBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.Equal(t, "05deadbeef", captured.Params.PubKey)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(retrieveResponse{
			Messages: []Message{{Data: "hi", Hash: "h1"}},
		})
	})

	c := New()
	msgs := c.Retrieve(port, "deadbeef", "")
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Data)
}

func TestRetrieveReturnsEmptyOnTransportError(t *testing.T) {
	c := New()
	msgs := c.Retrieve("1", "deadbeef", "")
	require.Empty(t, msgs)
}
