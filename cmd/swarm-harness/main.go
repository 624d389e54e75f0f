// Command swarm-harness drives a population of real storage-server
// binaries through the swarm lifecycle: bootstrapping, message
// delivery, swarm splits and dissolves, node drops and restores, and
// reports back on lost messages. It stands in for the lokid a real
// storage server polls for its swarm assignment.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msgmaxim/swarm-harness/pkg/blockchain"
	"github.com/msgmaxim/swarm-harness/pkg/certbootstrap"
	"github.com/msgmaxim/swarm-harness/pkg/keypool"
	"github.com/msgmaxim/swarm-harness/pkg/log"
	"github.com/msgmaxim/swarm-harness/pkg/metrics"
	"github.com/msgmaxim/swarm-harness/pkg/rpcserver"
	"github.com/msgmaxim/swarm-harness/pkg/scenario"
	"github.com/msgmaxim/swarm-harness/pkg/storageclient"
	"github.com/msgmaxim/swarm-harness/pkg/supervisor"
	"github.com/msgmaxim/swarm-harness/pkg/swarm"
	"github.com/msgmaxim/swarm-harness/pkg/testcontext"
)

var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarm-harness [binary-path]",
	Short: "Mock control-plane and scenario runner for swarm storage servers",
	Long: `swarm-harness spawns and supervises real storage-server binaries,
answers their lokid RPC polls with a simulated swarm topology and
blockchain height, and drives scripted or interactive scenarios against
them: message delivery, swarm splits, node churn, and bootstrapping.`,
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runHarness,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"swarm-harness version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("binary-path", "", "Path to the storage-server binary (or pass it as the first positional argument)")
	rootCmd.Flags().String("keys-file", "keys.txt", "Path to the static key pool file")
	rootCmd.Flags().Int("rpc-port", 22029, "Port the mock lokid JSON-RPC server listens on")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address the metrics/health HTTP server listens on")
	rootCmd.Flags().Duration("poll-interval", 200*time.Millisecond, "Blockchain snapshot refresh interval")
	rootCmd.Flags().String("scenario", "", "Run exactly this scenario non-interactively and exit (see pkg/scenario for names)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runHarness(cmd *cobra.Command, args []string) error {
	binaryPath, _ := cmd.Flags().GetString("binary-path")
	if binaryPath == "" && len(args) == 1 {
		binaryPath = args[0]
	}
	if binaryPath == "" {
		return fmt.Errorf("binary-path is required (flag or first positional argument)")
	}

	keysFile, _ := cmd.Flags().GetString("keys-file")
	rpcPort, _ := cmd.Flags().GetInt("rpc-port")
	rpcAddr := fmt.Sprintf(":%d", rpcPort)
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	scenarioName, _ := cmd.Flags().GetString("scenario")

	// Overwrite logs and the scratch workdir with every run.
	if err := os.RemoveAll("log"); err != nil {
		return fmt.Errorf("remove log directory: %v", err)
	}
	if err := os.RemoveAll("playground"); err != nil {
		return fmt.Errorf("remove playground directory: %v", err)
	}
	workDir, err := filepath.Abs("playground")
	if err != nil {
		return fmt.Errorf("resolve playground dir: %v", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create playground dir: %v", err)
	}

	sharedDir, err := filepath.Abs("shared_files")
	if err != nil {
		return fmt.Errorf("resolve shared_files dir: %v", err)
	}
	if err := os.MkdirAll(sharedDir, 0o755); err != nil {
		return fmt.Errorf("create shared_files dir: %v", err)
	}
	if _, _, err := certbootstrap.Ensure(sharedDir); err != nil {
		return fmt.Errorf("bootstrap certificates: %v", err)
	}

	keys, err := keypool.Load(keysFile)
	if err != nil {
		return fmt.Errorf("load keys file %s: %v", keysFile, err)
	}
	fmt.Printf("Loaded %d keys from %s\n", keys.Remaining(), keysFile)

	sup := supervisor.New(binaryPath, workDir, sharedDir)
	mgr := swarm.NewManager(sup)
	chain := blockchain.New(mgr)
	cache := blockchain.NewCache(chain, pollInterval)
	cache.Start()

	tc := testcontext.New(mgr, cache, keys, uint16(rpcPort))

	rpc := rpcserver.New(cache)
	errCh := make(chan error, 1)
	go func() {
		if err := rpc.Start(rpcAddr); err != nil {
			errCh <- fmt.Errorf("rpc server error: %v", err)
		}
	}()
	fmt.Printf("JSON-RPC listening on %s\n", rpcAddr)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("rpc_server", true, "listening")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("Metrics endpoint: http://%s/metrics\n", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nterminating, waiting for service nodes to finish...")
		mgr.QuitChildren()
		cache.Stop()
		os.Exit(0)
	}()

	env := &scenario.Env{Manager: mgr, Chain: chain, Ctx: tc}

	if scenarioName != "" {
		sc, ok := scenario.All[scenarioName]
		if !ok {
			return fmt.Errorf("unknown scenario %q", scenarioName)
		}

		runID := uuid.New().String()
		logger := log.WithComponent("harness").With().Str("run_id", runID).Str("scenario", scenarioName).Logger()
		logger.Info().Msg("starting scenario run")
		fmt.Printf("running scenario %q (run_id=%s)\n", scenarioName, runID)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := sc.Run(ctx, env); err != nil {
			logger.Error().Err(err).Msg("scenario run failed")
			fmt.Fprintf(os.Stderr, "scenario %q failed: %v\n", scenarioName, err)
			mgr.QuitChildren()
			cache.Stop()
			os.Exit(1)
		}
		logger.Info().Msg("scenario run passed")
		fmt.Printf("scenario %q passed\n", scenarioName)
		mgr.QuitChildren()
		cache.Stop()
		return nil
	}

	runInteractive(env, errCh)
	mgr.QuitChildren()
	cache.Stop()
	return nil
}

func runInteractive(env *scenario.Env, errCh chan error) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: test (print every swarm, its nodes and their stored messages), send (send a random message), quit/q")

	for {
		select {
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
			return
		default:
		}

		if !scanner.Scan() {
			return
		}
		command := scanner.Text()

		switch command {
		case "quit", "q":
			fmt.Println("terminating...")
			return
		case "test":
			client := storageclient.New()
			for _, sw := range env.Manager.Swarms() {
				fmt.Printf("          ___swarm %d___\n", sw.SwarmID)
				for _, sn := range sw.Nodes {
					fmt.Printf("[%s]\n", sn.Port)
					for _, entry := range client.RetrieveAll(sn.Port) {
						fmt.Printf("  %s: %s\n", entry.PK, entry.Data)
					}
				}
			}
		case "send":
			if err := env.Ctx.SendRandomMessage(); err != nil {
				fmt.Fprintf(os.Stderr, "got error sending message: %v\n", err)
			}
		default:
			if command != "" {
				fmt.Printf("unknown command %q\n", command)
			}
		}
	}
}
