package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluidmesh/chancol/pkg/collection"
	"github.com/fluidmesh/chancol/pkg/config"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/storage"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chancolctl",
	Short: "chancolctl runs and inspects a channel collection node",
	Long: `chancolctl hosts a single channel collection: the data store
lifecycle (create, attach, summarize, GC, delete), the alias
namespace, and the request router, sequenced by an embedded raft log.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"chancolctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(inspectCmd)

	gcCmd.AddCommand(gcSweepCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a channel collection node",
	Long: `Serve starts this node's embedded single-node raft cluster,
GC sweeper, and metrics endpoint, then blocks until interrupted.

Data store and alias registrations are expected to have been wired
into the collection's Registry by the embedding program before this
command's Collection is reused as a library; run standalone, the
registry starts empty and only pre-existing attached stores can be
routed to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		sweepOverride, _ := cmd.Flags().GetDuration("sweep-interval")
		if sweepOverride > 0 {
			cfg.GC.SweepInterval = sweepOverride
		}

		log.Logger.Info().
			Str("node_id", cfg.Node.ID).
			Str("bind_addr", cfg.Node.BindAddr).
			Str("data_dir", cfg.Node.DataDir).
			Msg("starting channel collection node")

		col, err := collection.New(collection.Config{
			NodeID:      cfg.Node.ID,
			BindAddr:    cfg.Node.BindAddr,
			DataDir:     cfg.Node.DataDir,
			SweepPeriod: cfg.GC.SweepInterval,
			Config: types.Config{
				DetectOutboundRoutesViaDDSKey: cfg.Collection.DetectOutboundRoutesViaDDSKey,
			},
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "bootstrapped")

		errCh := make(chan error, 1)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			log.Logger.Error().Err(err).Msg("serve error")
		}

		if err := col.Dispose(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a chancolctl YAML config file")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9191", "Address for the metrics/health HTTP endpoint")
	serveCmd.Flags().Duration("sweep-interval", 0, "Override the GC sweep interval from the config file")
}

// openLocalCollection bootstraps a throwaway single-node collection
// against an existing data directory for one-shot admin commands, the
// same pattern warren-migrate uses to open a bolt file directly rather
// than going through a running manager's RPC surface. Because
// BootstrapCluster makes a lone node its own leader, a short poll is
// enough to know raft.Apply will succeed.
func openLocalCollection(cfgPath string) (*collection.Collection, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	col, err := collection.New(collection.Config{
		NodeID:      cfg.Node.ID,
		BindAddr:    cfg.Node.BindAddr,
		DataDir:     cfg.Node.DataDir,
		SweepPeriod: cfg.GC.SweepInterval,
		Config: types.Config{
			DetectOutboundRoutesViaDDSKey: cfg.Collection.DetectOutboundRoutesViaDDSKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !col.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if !col.IsLeader() {
		col.Dispose()
		return nil, fmt.Errorf("node did not become raft leader within 5s")
	}
	return col, nil
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Inspect and drive garbage collection for a collection's data stores",
}

var gcSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one GC cycle: refresh root edges, then print the outbound-route graph",
	Long: `Sweep opens the collection at --config's data directory, runs
UpdateStateBeforeGC followed by GetGCData, and prints the resulting
node/route graph. It does not compute or apply used-routes/tombstone
decisions itself — that marking is the parent runtime's job per §4.G;
this is the inspection half a human operator drives by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		fullGC, _ := cmd.Flags().GetBool("full")

		col, err := openLocalCollection(cfgPath)
		if err != nil {
			return err
		}
		defer col.Dispose()

		col.GC.UpdateStateBeforeGC(col)
		nodes, err := col.GC.GetGCData(fullGC)
		if err != nil {
			return fmt.Errorf("get gc data: %w", err)
		}
		for _, n := range nodes {
			fmt.Printf("%s -> %v\n", n.ID, n.OutboundRoutes)
		}
		return nil
	},
}

func init() {
	gcSweepCmd.Flags().String("config", "", "Path to a chancolctl YAML config file")
	gcSweepCmd.Flags().Bool("full", false, "Request a full GC pass rather than an incremental one")
}

var aliasCmd = &cobra.Command{
	Use:   "alias <id> <name>",
	Short: "Alias a data store id to a human-readable name",
	Long: `Alias submits an AliasStore op for id through this node's raft
log and waits for the reservation/commit round trip to resolve,
printing Success, Conflict, or AlreadyAliased.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		id, desiredAlias := args[0], args[1]

		col, err := openLocalCollection(cfgPath)
		if err != nil {
			return err
		}
		defer col.Dispose()

		fut, err := col.AliasStore(id, desiredAlias)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result, err := fut.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	},
}

func init() {
	aliasCmd.Flags().String("config", "", "Path to a chancolctl YAML config file")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the persisted snapshot ids for a data directory",
	Long: `Inspect opens the bolt file under --data-dir directly (read-write,
creating the file and its buckets if absent) without starting raft, and
lists the snapshot ids held in the channels and legacy subtrees. Blobs
are not counted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		channels, err := store.ListSnapshotIDs("channels")
		if err != nil {
			return fmt.Errorf("list channels subtree: %w", err)
		}
		legacy, err := store.ListSnapshotIDs("legacy")
		if err != nil {
			return fmt.Errorf("list legacy subtree: %w", err)
		}

		fmt.Printf("data directory: %s\n", dataDir)
		fmt.Printf("channels subtree: %d snapshot(s)\n", len(channels))
		for _, id := range channels {
			fmt.Printf("  %s\n", id)
		}
		if len(legacy) > 0 {
			fmt.Printf("legacy subtree: %d snapshot(s) — run chancol-migrate to move these to channels\n", len(legacy))
			for _, id := range legacy {
				fmt.Printf("  %s\n", id)
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("data-dir", "./chancol-data", "Data directory to inspect")
}
