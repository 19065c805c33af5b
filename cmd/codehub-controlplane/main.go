package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cagojeiger/codehub-controlplane/internal/cdc"
	"github.com/cagojeiger/codehub-controlplane/internal/config"
	"github.com/cagojeiger/codehub-controlplane/internal/controller"
	"github.com/cagojeiger/codehub-controlplane/internal/coordinator"
	"github.com/cagojeiger/codehub-controlplane/internal/gc"
	"github.com/cagojeiger/codehub-controlplane/internal/leader"
	"github.com/cagojeiger/codehub-controlplane/internal/observer"
	"github.com/cagojeiger/codehub-controlplane/internal/redisx"
	"github.com/cagojeiger/codehub-controlplane/internal/runtimeclient"
	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/telemetry"
	"github.com/cagojeiger/codehub-controlplane/internal/ttlscheduler"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

var (
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
	Use:     "codehub-controlplane",
	Short:   "codehub control plane: leader-elected reconciliation over developer workspaces",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("codehub-controlplane version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "Address the Prometheus /metrics endpoint listens on")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all coordinators (OB, WC, TTL, GC, CDC) and the metrics endpoint (no activity flusher)",
	RunE:  runControlPlane,
}

func runControlPlane(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer pg.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
	defer redisClient.Close()
	wakeBus := redisx.NewWakeBus(redisClient)
	eventStream := redisx.NewEventStream(redisClient, cfg.EventStreamMaxLen)
	activityStore := redisx.NewActivityStore(redisClient)

	runtimeClient := runtimeclient.New(cfg.Runtime.EndpointURL, cfg.Runtime.APIKey, cfg.Runtime.ResourceTimeout)

	group, gctx := errgroup.WithContext(ctx)

	obElection, obConn, err := newElection(ctx, cfg.Database.URL, "ob")
	if err != nil {
		return err
	}
	defer obConn.Close(context.Background())
	ob := observer.New(pg, runtimeClient, cfg.ClusterID, cfg.Intervals.ObserverIdle)
	group.Go(func() error {
		runCoordinator(gctx, ob, obElection, wakeBus, redisx.WakeOB)
		return nil
	})

	wcElection, wcConn, err := newElection(ctx, cfg.Database.URL, "wc")
	if err != nil {
		return err
	}
	defer wcConn.Close(context.Background())
	wc := controller.New(pg, runtimeClient, wcElection, cfg.Runtime.MaxRetries, cfg.Runtime.ArchiveJobTimeout, cfg.Intervals.ControllerIdle, cfg.Intervals.ControllerActive)
	group.Go(func() error {
		runCoordinator(gctx, wc, wcElection, wakeBus, redisx.WakeWC)
		return nil
	})

	ttlElection, ttlConn, err := newElection(ctx, cfg.Database.URL, "ttl")
	if err != nil {
		return err
	}
	defer ttlConn.Close(context.Background())
	ttl := ttlscheduler.New(pg, activityStore, time.Duration(cfg.TTL.StandbySeconds)*time.Second, time.Duration(cfg.TTL.ArchiveSeconds)*time.Second, cfg.Intervals.TTL)
	group.Go(func() error {
		runCoordinator(gctx, ttl, ttlElection, wakeBus, "")
		return nil
	})

	gcElection, gcConn, err := newElection(ctx, cfg.Database.URL, "gc")
	if err != nil {
		return err
	}
	defer gcConn.Close(context.Background())
	archiveGC := gc.New(pg, runtimeClient, cfg.Intervals.GC)
	group.Go(func() error {
		runCoordinator(gctx, archiveGC, gcElection, wakeBus, redisx.WakeGC)
		return nil
	})

	cdcElection, cdcConn, err := newElection(ctx, cfg.Database.URL, "cdc")
	if err != nil {
		return err
	}
	defer cdcConn.Close(context.Background())
	cdcListener, err := cdc.New(cfg.Database.URL, wakeBus, eventStream, &cdc.StoreProjector{Store: pg}, 30*time.Second)
	if err != nil {
		return fmt.Errorf("build cdc listener: %w", err)
	}
	defer cdcListener.Close()
	group.Go(func() error {
		runCoordinator(gctx, cdcListener, cdcElection, wakeBus, "")
		return nil
	})

	group.Go(func() error {
		return serveMetrics(gctx, metricsAddr)
	})

	log.Logger.Info().Str("version", Version).Msg("control plane starting")
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Logger.Info().Msg("control plane stopped")
	return nil
}

// runCoordinator drives one coordinator under coordinator.Run and
// subscribes it to its wake target, if any (TTL and CDC have no wake
// target of their own: TTL runs purely on its own interval, and CDC
// is itself the wake publisher).
func runCoordinator(ctx context.Context, c coordinator.Coordinator, election *leader.Election, wakeBus *redisx.WakeBus, target redisx.WakeTarget) {
	var sub *redisx.Subscription
	if target != "" {
		sub = wakeBus.Subscribe(ctx, target)
		defer sub.Close()
	}
	coordinator.Run(ctx, c, election, sub)
}

// newElection opens a dedicated connection for one coordinator's
// advisory lock: session-scoped locks cannot share a pooled
// connection between goroutines.
func newElection(ctx context.Context, dsn, name string) (*leader.Election, *pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect election conn for %s: %w", name, err)
	}
	return leader.New(conn, name), conn, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
