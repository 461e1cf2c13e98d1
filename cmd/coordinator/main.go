// Command coordinator is the marketplace coordinator: the REST/websocket
// API, the Expiry/Heartbeat Scheduler, and the node-events stream
// consumer, all sharing one Session Orchestrator instance so its
// per-session mailboxes stay in a single process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"infermarket/config"
	"infermarket/internal/api"
	"infermarket/internal/bridge"
	"infermarket/internal/database"
	"infermarket/internal/ledger"
	"infermarket/internal/lightning"
	"infermarket/internal/metrics"
	"infermarket/internal/noderpc"
	"infermarket/internal/orchestrator"
	"infermarket/internal/push"
	"infermarket/internal/queue"
	"infermarket/internal/registry"
	"infermarket/internal/scheduler"
	"infermarket/pkg/cache"
	"infermarket/pkg/logger"
	streams "infermarket/pkg/queue"

	"github.com/jinzhu/copier"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Cfg config.CoordinatorConfig

var configFile string

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "infermarket coordinator daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load config, wire dependencies, and run the coordinator until shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "", "path to config.toml (defaults to <repo root>/config.toml)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	configPath := config.Path(configFile)
	if configFile == "" {
		_, filename, _, _ := runtime.Caller(0)
		root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
		configPath = config.Path(root).Join("config.toml")
	}

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	lnCfg := lightning.Config{
		GRPCHost:              Cfg.Lightning.GRPCHost,
		GRPCPort:              strconv.Itoa(Cfg.Lightning.GRPCPort),
		TLSCertPath:           Cfg.Lightning.TLSCertPath,
		MacaroonPath:          Cfg.Lightning.MacaroonPath,
		Network:               Cfg.Lightning.Network,
		PaymentTimeoutSeconds: Cfg.Lightning.PaymentTimeoutSeconds,
		MaxPaymentFeeSats:     Cfg.Lightning.MaxPaymentFeeSats,
	}
	lnClient, err := lightning.NewClient(lnCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to LND: %w", err)
	}
	defer lnClient.Close()
	logger.Info("connected to Lightning gateway", zap.String("network", Cfg.Lightning.Network))

	users := database.NewUserRepository(db)
	nodeRepo := database.NewNodeRepository(db)
	sessionRepo := database.NewSessionRepository(db)
	invoiceRepo := database.NewInvoiceRepository(db)
	ledgerRepo := database.NewLedgerRepository(db)

	ledgerStore := ledger.NewPostgresStore(ledgerRepo, users)
	ledgerSvc := ledger.NewService(ledgerStore)

	registrySvc := registry.NewService(nodeRepo, ledgerSvc, sessionRepo, Cfg.Pricing.NodeRegistrationFeeSats)

	nodeRPCTimeout := 30 * time.Second
	nodeRPCClient := noderpc.NewClient(nodeRPCTimeout)

	events := streams.NewStreamQueue(cache.Client)
	if err := events.DeclareStream(ctx, queue.StreamNodeEvents, queue.GroupOrchestrator); err != nil {
		return fmt.Errorf("failed to declare node_events stream: %w", err)
	}
	if err := events.DeclareStream(ctx, queue.StreamNodeHeartbeats, queue.GroupOrchestrator); err != nil {
		return fmt.Errorf("failed to declare node_heartbeats stream: %w", err)
	}

	authz := api.NewSessionAuthorizer(sessionRepo)

	orchCfg := orchestrator.Config{
		HouseUserID:               Cfg.Pricing.HouseUserID,
		CommissionRateBasisPoints: Cfg.Pricing.CommissionRateBasisPoints,
		InvoiceExpirySeconds:      Cfg.Lightning.InvoiceExpirySeconds,
	}

	// Bridge needs a Pusher (the Hub), the Hub needs a ChatHandler (the
	// Bridge) and a SessionEnder (the Orchestrator), and the Orchestrator
	// needs both the Bridge and a Pusher (the Hub again) — a genuine
	// three-way cycle. hubRef breaks it: Bridge and Orchestrator close
	// over a pointer to the not-yet-built Hub, which is only dereferenced
	// on each push, by which point NewHub below has filled it in.
	var hub *push.Hub
	ref := &hubRef{hub: &hub}
	bridgeSvc := bridge.NewService(nodeRPCClient, ref, 0)
	orchSvc := orchestrator.NewService(sessionRepo, registrySvc, ledgerSvc, lnClient, invoiceRepo, nodeRPCClient, bridgeSvc, ref, orchCfg)
	hub = push.NewHub(authz, bridgeSvc, orchSvc)

	schedCfg := scheduler.Config{
		HeartbeatTimeout:  time.Duration(Cfg.Scheduler.HeartbeatTimeoutSeconds) * time.Second,
		HeartbeatPoll:     time.Duration(Cfg.Scheduler.HeartbeatPollSeconds) * time.Second,
		InvoicePoll:       time.Duration(Cfg.Scheduler.InvoicePollSeconds) * time.Second,
		ExpiryPoll:        time.Duration(Cfg.Scheduler.ExpiryPollSeconds) * time.Second,
		StartingTimeout:   time.Duration(Cfg.Scheduler.StartingTimeoutSeconds) * time.Second,
		HFStartingTimeout: time.Duration(Cfg.Scheduler.HFStartingTimeoutSeconds) * time.Second,
	}
	schedSvc := scheduler.NewService(sessionRepo, registrySvc, invoiceRepo, lnClient, ledgerSvc, orchSvc, schedCfg)

	srv := api.NewServer(api.Deps{
		Users:     users,
		Nodes:     registrySvc,
		Sessions:  sessionRepo,
		Invoices:  invoiceRepo,
		Ledger:    ledgerSvc,
		Orch:      orchSvc,
		Lightning: lnClient,
		Hub:       hub,
		Events:    events,
		Config:    &Cfg,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		schedSvc.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runNodeEventsConsumer(runCtx, events, orchSvc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runNodeHeartbeatsConsumer(runCtx, events)
	}()

	httpSrv := srv.Router()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", zap.String("port", Cfg.HTTP.Port))
		if err := httpSrv.Run(":" + Cfg.HTTP.Port); err != nil {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	cancel()
	wg.Wait()
	logger.Info("coordinator shut down gracefully")
	return nil
}

// hubRef satisfies both orchestrator.Pusher and bridge.Pusher by
// forwarding to a *push.Hub that is filled in after hubRef itself is
// handed to the Bridge and Orchestrator constructors.
type hubRef struct {
	hub **push.Hub
}

func (r *hubRef) PushToUser(userID string, frame any) {
	if *r.hub != nil {
		(*r.hub).PushToUser(userID, frame)
	}
}

func (r *hubRef) PushToSession(sessionID string, frame any) bool {
	if *r.hub == nil {
		return false
	}
	return (*r.hub).PushToSession(sessionID, frame)
}

// runNodeEventsConsumer drains the node_events stream and translates each
// load-progress/ready/load_failed callback into the matching Orchestrator
// event. It runs in this process, not a separate binary, because the
// Orchestrator's per-session mailboxes are in-memory state: a consumer in
// another process could not dispatch into them.
func runNodeEventsConsumer(ctx context.Context, q *streams.StreamQueue, orch *orchestrator.Service) {
	consumerName := fmt.Sprintf("coordinator-%d", time.Now().Unix())
	err := q.Consume(ctx, queue.StreamNodeEvents, queue.GroupOrchestrator, consumerName,
		func(messageID string, data []byte) error {
			msg, err := queue.FromJSONNodeCallback(data)
			if err != nil {
				logger.Warn("dropping malformed node_events message", zap.String("message_id", messageID), zap.Error(err))
				return nil // permanent failure; acking avoids reprocessing garbage forever.
			}

			var dispatchErr error
			switch msg.Event {
			case "ready":
				dispatchErr = orch.HandleNodeReady(ctx, msg.SessionID)
			case "load_failed":
				dispatchErr = orch.HandleNodeLoadFailed(ctx, msg.SessionID, msg.Message)
			case "downloading", "loading":
				dispatchErr = orch.HandleModelStatus(ctx, msg.SessionID, msg.Event, msg.Message)
			}
			if dispatchErr != nil {
				logger.Error("failed to dispatch node event to orchestrator",
					zap.String("session_id", msg.SessionID), zap.String("event", msg.Event), zap.Error(dispatchErr))
				return dispatchErr
			}
			metrics.NodeEventsProcessedTotal.WithLabelValues(msg.Event).Inc()
			return nil
		})
	if err != nil && ctx.Err() == nil {
		logger.Error("node_events consumer stopped", zap.Error(err))
	}
}

// runNodeHeartbeatsConsumer drains the audit-only heartbeat stream. It
// never mutates node state — Heartbeat already did that synchronously in
// the HTTP handler — so a lagging or stopped consumer here only delays
// the NodeHeartbeatEventsTotal counter, never node matching.
func runNodeHeartbeatsConsumer(ctx context.Context, q *streams.StreamQueue) {
	consumerName := fmt.Sprintf("coordinator-%d", time.Now().Unix())
	err := q.Consume(ctx, queue.StreamNodeHeartbeats, queue.GroupOrchestrator, consumerName,
		func(messageID string, data []byte) error {
			msg, err := queue.FromJSONNodeHeartbeat(data)
			if err != nil {
				logger.Warn("dropping malformed node_heartbeats message", zap.String("message_id", messageID), zap.Error(err))
				return nil
			}
			metrics.NodeHeartbeatEventsTotal.Inc()
			logger.Debug("node heartbeat observed", zap.String("node_id", msg.NodeID))
			return nil
		})
	if err != nil && ctx.Err() == nil {
		logger.Error("node_heartbeats consumer stopped", zap.Error(err))
	}
}
