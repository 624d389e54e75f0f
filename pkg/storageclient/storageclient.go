// Package storageclient speaks the storage-server's HTTP(S) RPC protocol
// from the test harness side: store, retrieve, and the retrieve_all
// diagnostic endpoint. Every wire detail here (paths, headers, the "05"
// pubkey prefix) is contractual with the binary under test, not
// something this harness is free to simplify.
package storageclient

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	ephemKeyHeader = "X-Loki-ephemkey"
	ephemKeyValue  = "86400"
	pubkeyPrefix   = "05"
)

// Client talks to one or more storage-server instances over HTTPS with
// certificate verification disabled, matching the self-signed test
// certificates every spawned node presents.
type Client struct {
	http *http.Client
}

// New creates a Client with a 30s request timeout and a transport that
// skips TLS verification, since every storage-server instance under test
// presents a self-signed certificate.
func New() *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

type storeParams struct {
	PubKey    string `json:"pubKey"`
	TTL       string `json:"ttl"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

type storeBody struct {
	Method string      `json:"method"`
	Params storeParams `json:"params"`
}

type retrieveParams struct {
	PubKey   string `json:"pubKey"`
	LastHash string `json:"lastHash"`
}

type retrieveBody struct {
	Method string         `json:"method"`
	Params retrieveParams `json:"params"`
}

// Message is one stored item as returned by retrieve/retrieve_all.
type Message struct {
	Data string `json:"data"`
	Hash string `json:"hash"`
}

type retrieveResponse struct {
	Messages []Message `json:"messages"`
}

// RetrieveAllEntry is one row of the retrieve_all diagnostic response,
// which additionally reports which pubkey each message belongs to.
type RetrieveAllEntry struct {
	PK   string `json:"pk"`
	Data string `json:"data"`
}

type retrieveAllResponse struct {
	Messages []RetrieveAllEntry `json:"messages"`
}

func baseURL(port string) string {
	return fmt.Sprintf("https://localhost:%s", port)
}

// Store sends one message to the node listening on port, addressed to
// pk. It reports success iff the node responds with an HTTP 2xx.
func (c *Client) Store(port, pk, data string) error {
	body := storeBody{
		Method: "store",
		Params: storeParams{
			PubKey:    pubkeyPrefix + pk,
			TTL:       "86400000",
			Nonce:     "324324",
			Timestamp: time.Now().UnixMilli(),
			Data:      data,
		},
	}

	resp, err := c.post(port, "/storage_rpc/v1", body)
	if err != nil {
		return fmt.Errorf("storageclient: store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("storageclient: store: node returned status %d", resp.StatusCode)
	}
	return nil
}

// Retrieve fetches all messages for pk newer than lastHash (empty string
// for "all") from the node on port. On any parse or transport error it
// returns an empty slice rather than propagating the error, matching the
// tolerant behavior the oracle relies on.
func (c *Client) Retrieve(port, pk, lastHash string) []Message {
	body := retrieveBody{
		Method: "retrieve",
		Params: retrieveParams{PubKey: pubkeyPrefix + pk, LastHash: lastHash},
	}

	resp, err := c.post(port, "/storage_rpc/v1", body)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var parsed retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}
	return parsed.Messages
}

// RetrieveAll hits the diagnostic /retrieve_all/v1 endpoint on port,
// returning every message the node holds across all pubkeys. Used only
// by interactive "test" commands, never by the automated oracle.
func (c *Client) RetrieveAll(port string) []RetrieveAllEntry {
	resp, err := c.http.Post(baseURL(port)+"/retrieve_all/v1", "application/json", nil)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var parsed retrieveAllResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}
	return parsed.Messages
}

func (c *Client) post(port, path string, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL(port)+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ephemKeyHeader, ephemKeyValue)

	return c.http.Do(req)
}
