// Package keypool loads the static pool of key triples the harness hands
// out to newly spawned service nodes. Keys are never generated here and
// never recycled once popped.
package keypool

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeyTriple is the legacy / Ed25519 / X25519 keypair set assigned to one
// service node.
type KeyTriple struct {
	LegacySK    string
	LegacyPK    string
	Ed25519SK   string
	Ed25519PK   string
	X25519SK    string
	X25519PK    string
}

// Pool is a consume-once pool of KeyTriples loaded from a keys file.
type Pool struct {
	mu     sync.Mutex
	keys   []KeyTriple
}

// Load reads a keys.txt-formatted file: one line per node, whitespace
// separated as "legacy_sk legacy_pk ed25519_sk ed25519_pk x25519_sk x25519_pk".
func Load(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keypool: open %s: %w", path, err)
	}
	defer f.Close()

	var keys []KeyTriple
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 6 {
			return nil, fmt.Errorf("keypool: %s:%d: expected 6 fields, got %d", path, lineNo, len(fields))
		}
		keys = append(keys, KeyTriple{
			LegacySK:  fields[0],
			LegacyPK:  fields[1],
			Ed25519SK: fields[2],
			Ed25519PK: fields[3],
			X25519SK:  fields[4],
			X25519PK:  fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("keypool: reading %s: %w", path, err)
	}

	return &Pool{keys: keys}, nil
}

// Remaining returns how many key triples have not yet been popped.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Pop removes and returns one key triple from the end of the pool,
// mirroring the original's Vec::pop semantics.
func (p *Pool) Pop() (KeyTriple, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return KeyTriple{}, fmt.Errorf("keypool: exhausted")
	}

	last := len(p.keys) - 1
	kt := p.keys[last]
	p.keys = p.keys[:last]
	return kt, nil
}
