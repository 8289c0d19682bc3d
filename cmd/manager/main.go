// Command manager is the backendai-manager worker process: it loads
// configuration, opens storage and the event bus, elects a scheduler
// leader among its peers, and runs until told to stop. Everything it
// wires lives in pkg/; this file only does construction order and
// lifecycle, the same division of labor as the teacher's cmd/warren.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backendai/manager/pkg/agentcache"
	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/config"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/handlers"
	"github.com/backendai/manager/pkg/leaderelect"
	"github.com/backendai/manager/pkg/lifecycle"
	"github.com/backendai/manager/pkg/log"
	"github.com/backendai/manager/pkg/metrics"
	"github.com/backendai/manager/pkg/network"
	"github.com/backendai/manager/pkg/registry"
	"github.com/backendai/manager/pkg/scheduler"
	"github.com/backendai/manager/pkg/storage"
	"github.com/backendai/manager/pkg/waiter"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "backendai-manager",
	Short:   "Backend.AI Manager session lifecycle core",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults come from pkg/config.Default)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)

	runCmd.Flags().Bool("join", false, "Join an existing leader-election group instead of bootstrapping one")
	runCmd.Flags().String("leader-addr", "", "Leader-election bind address of the group to join (required with --join)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})
	return cfg, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := storage.Open(ctx, storage.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a manager worker process",
	Long: `Run opens storage and the event bus, elects (or joins) this
process into the scheduler leader-election group, wires the lifecycle
engine, scheduler, registry and event handlers, and serves until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := log.WithComponent("manager")
		logger.Info().Str("node_id", cfg.LeaderElect.NodeID).Int("process_index", cfg.EventBus.ProcessIndex).Msg("starting manager")

		store, err := storage.Open(ctx, storage.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		bus, err := eventbus.New(ctx, eventbus.Config{
			Addr:         cfg.EventBus.Addr,
			Password:     cfg.EventBus.Password,
			DB:           cfg.EventBus.DB,
			GroupName:    cfg.EventBus.GroupName,
			ProcessIndex: cfg.EventBus.ProcessIndex,
		})
		if err != nil {
			return fmt.Errorf("open event bus: %w", err)
		}
		defer bus.Close()
		bus.Run(ctx)

		join, _ := cmd.Flags().GetBool("join")
		leaderAddr, _ := cmd.Flags().GetString("leader-addr")
		elector, err := startElection(cfg, join, leaderAddr)
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		defer elector.Shutdown()

		cache := agentcache.New()
		pool := agentrpc.NewPool(cache)
		netMgr := network.NewManager(pool, nil)
		waiterRegistry := waiter.New()
		engine := lifecycle.New(store, bus)

		reg := registry.New(store, engine, bus, pool, cache, netMgr, waiterRegistry, cfg.Registry)
		reg.ReadTimeout = cfg.RPC.ReadTimeout
		reg.WriteTimeout = cfg.RPC.WriteTimeout

		h := &handlers.Handlers{Bus: bus, Engine: engine, Registry: reg, Network: netMgr}
		h.Register()

		sched := scheduler.New(store, bus, pool, engine, netMgr, cfg.Scheduler.TickInterval)

		metricsSrv := metrics.NewServer(cfg.Metrics.ListenAddr)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics listening")

		stopLeaderWatch := watchLeadership(ctx, elector, sched)
		defer stopLeaderWatch()

		logger.Info().Msg("manager running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")

		cancel()
		sched.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func startElection(cfg config.Config, join bool, leaderAddr string) (*leaderelect.Elector, error) {
	elCfg := leaderelect.Config{
		NodeID:   cfg.LeaderElect.NodeID,
		BindAddr: cfg.LeaderElect.BindAddr,
		DataDir:  cfg.LeaderElect.DataDir,
	}
	if !join {
		return leaderelect.Bootstrap(elCfg)
	}
	if leaderAddr == "" {
		return nil, fmt.Errorf("--leader-addr is required with --join")
	}
	elector, err := leaderelect.Join(elCfg)
	if err != nil {
		return nil, err
	}
	// The actual AddVoter call must be made against the current leader's
	// Elector, typically over an administrative RPC this module doesn't
	// define (spec §1 treats manager-manager transport as out of scope
	// beyond the election semantics pkg/leaderelect implements). Operators
	// wire that call through their own deployment tooling; Join only
	// prepares this node's raft instance to accept it.
	log.WithComponent("manager").Info().Str("leader_addr", leaderAddr).Msg("joined election group, awaiting AddVoter from leader")
	return elector, nil
}

// watchLeadership polls the elector and starts/stops the scheduler ticker
// as this process gains or loses leadership, so only one manager process
// in the group ever runs the scheduling loop. No periodic
// recalc_resource_usage sweep is started here or anywhere else.
func watchLeadership(ctx context.Context, elector *leaderelect.Elector, sched *scheduler.Scheduler) func() {
	logger := log.WithComponent("manager")
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		wasLeader := false
		for {
			select {
			case <-ticker.C:
				isLeader := elector.IsLeader()
				if isLeader == wasLeader {
					continue
				}
				wasLeader = isLeader
				if isLeader {
					metrics.LeaderIsElected.Set(1)
					logger.Info().Msg("became scheduler leader")
					sched.Start()
				} else {
					metrics.LeaderIsElected.Set(0)
					logger.Info().Msg("lost scheduler leadership")
					sched.Stop()
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(stopCh) }
}
