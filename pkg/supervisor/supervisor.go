// Package supervisor manages the lifecycle of storage-server child
// processes: spawning them with the right working directory and
// arguments, capturing their logs, and shutting them down gracefully.
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/msgmaxim/swarm-harness/pkg/health"
	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
)

// spawnReadyTimeout bounds how long Spawn waits for a freshly started
// storage server to accept connections before giving up on it.
const spawnReadyTimeout = 10 * time.Second

// statsAccessKey is the fixed stats-access-key every spawned node is
// handed; nothing in the harness ever authenticates against it, so one
// shared constant is all a test rig needs.
const statsAccessKey = "0000000000000000000000000000000000000000000000000000000000000000"

// tlsMaterial lists the files copied from sharedDir into a node's working
// directory before it is spawned.
var tlsMaterial = []string{"cert.pem", "dh.pem", "key.pem"}

// Supervisor tracks every live child process, keyed by the identity the
// caller supplies (a service node's port). It implements swarm.Spawner.
type Supervisor struct {
	binaryPath string
	workDir    string
	sharedDir  string

	mu       sync.Mutex
	children map[string]*child
}

type child struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logs   *logBuffer
}

// New creates a Supervisor that spawns binaryPath under workDir/<port>/,
// mirroring the original's "playground/<ip>/" per-node working directory.
// sharedDir holds the cert.pem/dh.pem/key.pem TLS material copied into
// every node's working directory before it starts.
func New(binaryPath, workDir, sharedDir string) *Supervisor {
	return &Supervisor{
		binaryPath: binaryPath,
		workDir:    workDir,
		sharedDir:  sharedDir,
		children:   map[string]*child{},
	}
}

// Spawn starts sn's storage-server process. The working directory is
// created if absent; stdout/stderr are captured into an in-memory buffer
// and also redirected to stderr.txt, matching the source's convention.
func (s *Supervisor) Spawn(sn swarm.ServiceNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sn.Key()
	if _, exists := s.children[key]; exists {
		return fmt.Errorf("supervisor: %s already running", key)
	}

	dir := filepath.Join(s.workDir, sn.Port)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create working dir for %s: %w", key, err)
	}

	if err := copyTLSMaterial(s.sharedDir, dir); err != nil {
		return fmt.Errorf("supervisor: copy tls material for %s: %w", key, err)
	}

	lmqPort, err := lmqPortFor(sn.Port)
	if err != nil {
		return fmt.Errorf("supervisor: %s: %w", key, err)
	}

	args := []string{
		"0.0.0.0", sn.Port,
		"--log-level", "debug",
		"--lokid-key", sn.LegacySK,
		"--lokid-x25519-key", sn.X25519SK,
		"--lokid-ed25519-key", sn.Ed25519SK,
		"--stats-access-key", statsAccessKey,
		"--lokid-rpc-port", fmt.Sprintf("%d", sn.LokidRPCPort),
		"--lmq-port", fmt.Sprintf("%d", lmqPort),
		"--data-dir", ".",
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.binaryPath, args...)
	cmd.Dir = dir

	logs := &logBuffer{}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("supervisor: stdout pipe for %s: %w", key, err)
	}
	// stderr shares stdout's pipe, so both streams reach stderr.txt.
	cmd.Stderr = cmd.Stdout

	stderrFile, err := os.Create(filepath.Join(dir, "stderr.txt"))
	if err != nil {
		cancel()
		return fmt.Errorf("supervisor: create stderr.txt for %s: %w", key, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		stderrFile.Close()
		return fmt.Errorf("supervisor: start %s: %w", key, err)
	}

	go captureToFile(stdout, logs, stderrFile)

	s.children[key] = &child{cmd: cmd, cancel: cancel, logs: logs}

	log.WithPort(sn.Port).Info().Int("pid", cmd.Process.Pid).Msg("spawned service node")

	if err := waitUntilReady(ctx, sn.Port, spawnReadyTimeout); err != nil {
		log.WithPort(sn.Port).Warn().Err(err).Msg("service node did not become ready in time")
	}
	return nil
}

// copyTLSMaterial copies cert.pem, dh.pem, and key.pem from sharedDir into
// a node's working directory, matching the storage server's expectation
// that its TLS material lives alongside its data directory.
func copyTLSMaterial(sharedDir, dir string) error {
	for _, name := range tlsMaterial {
		data, err := os.ReadFile(filepath.Join(sharedDir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// lmqPortFor computes the LMQ listen port from a node's storage port:
// storage_port + 200.
func lmqPortFor(port string) (int, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", port, err)
	}
	return p + 200, nil
}

// waitUntilReady polls port with a TCP health check until it accepts a
// connection or timeout elapses.
func waitUntilReady(ctx context.Context, port string, timeout time.Duration) error {
	checker := health.NewTCPChecker("127.0.0.1:" + port).WithTimeout(500 * time.Millisecond)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if res := checker.Check(ctx); res.Healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor: %s not ready after %s", port, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Quit asks the node at sn to exit: first a best-effort HTTP POST to its
// /quit endpoint, then SIGTERM, escalating to SIGKILL after 10s if it
// hasn't exited. It is a no-op if the node isn't tracked.
func (s *Supervisor) Quit(sn swarm.ServiceNode) {
	s.mu.Lock()
	c, ok := s.children[sn.Key()]
	if ok {
		delete(s.children, sn.Key())
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	logger := log.WithPort(sn.Port)

	postQuit(sn.Port)

	if c.cmd.Process == nil {
		return
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Warn().Err(err).Msg("SIGTERM failed, escalating to SIGKILL")
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cancel()
		return
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("graceful shutdown timed out, sending SIGKILL")
		_ = c.cmd.Process.Kill()
		<-done
	}
	c.cancel()
}

// QuitAll quits every currently tracked child.
func (s *Supervisor) QuitAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.children))
	for k := range s.children {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.Quit(swarm.ServiceNode{Port: k})
	}
}

// Logs returns the captured stdout/stderr text for the node at port, or
// the empty string if it is not (or no longer) tracked.
func (s *Supervisor) Logs(port string) string {
	s.mu.Lock()
	c, ok := s.children[port]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	return c.logs.String()
}

func postQuit(port string) {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://127.0.0.1:%s/quit", port), "application/json", nil)
	if err == nil {
		resp.Body.Close()
	}
}

func captureToFile(r io.Reader, logs *logBuffer, f *os.File) {
	defer f.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		logs.Append(line)
		fmt.Fprintln(f, line)
	}
}

// logBuffer is a minimal thread-safe line buffer, trimmed down from the
// framework's fuller LogBuffer since the harness only ever needs the
// concatenated text for debugging failed scenarios.
type logBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
}

func (lb *logBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.buf.WriteString(line)
	lb.buf.WriteByte('\n')
}

func (lb *logBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}
