// Command ndbd is the daemon entrypoint: it wires together the Store,
// Queue, Sources Registry, and Database Manager and exposes them over
// HTTP (metrics/health) and, optionally, gRPC (the remote Source
// transport's listening side).
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/ndb/pkg/log"
	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/config"
	"github.com/cuemby/ndb/pkg/ndb/dbm"
	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/registry"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
	"github.com/cuemby/ndb/pkg/rtnlremote" // import also registers the "remote" Source dialer via its init()
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ndbd",
	Short:   "ndbd - rtnetlink network database daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ndbd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ndbd daemon",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().String("config", "", "Path to YAML config file (defaults to a single local source)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	q := queue.New(1024)
	broker := notify.NewBroker()
	broker.Start()
	reg := registry.New(st, q, broker, log.Logger)
	mgr := dbm.New(q, st, broker, log.Logger)

	mgr.Start()
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("dbm", true, "ready")

	if err := reg.Restore(); err != nil {
		log.Logger.Warn().Err(err).Msg("ndbd: failed to restore persisted sources")
	}
	for _, spec := range cfg.Specs() {
		if _, err := reg.Add(spec); err != nil {
			log.Logger.Error().Err(err).Str("target", spec.Target).Msg("ndbd: failed to add configured source")
		}
	}
	metrics.RegisterComponent("registry", true, "ready")

	collector := metrics.NewCollector(st, reg.SourceStates)
	collector.Start()

	metrics.SetVersion(Version)

	var remoteServer *rtnlremote.Server
	if cfg.RemoteListenAddr != "" {
		conn, err := rtnl.Dial(0)
		if err != nil {
			return fmt.Errorf("open local netlink connection for remote server: %w", err)
		}
		lis, err := net.Listen("tcp", cfg.RemoteListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.RemoteListenAddr, err)
		}
		remoteServer = rtnlremote.NewServer(conn, log.Logger)
		go func() {
			if err := remoteServer.Serve(lis); err != nil {
				log.Logger.Error().Err(err).Msg("ndbd: rtnlremote server stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("ndbd: metrics server stopped")
		}
	}()
	fmt.Printf("ndbd running, metrics on http://%s\n", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")

	collector.Stop()
	// Sources first: a closing reader rendezvouses with the dispatch
	// loop, so the DBM must still be draining the queue.
	_ = reg.CloseAll(false)
	mgr.Stop()
	if remoteServer != nil {
		remoteServer.Stop()
	}
	broker.Stop()
	_ = httpServer.Close()

	return nil
}
