// Package daemon wires the shared-state store, ownership coordinator,
// resource manager, scheduler and control-plane protocol into one running
// process: the coordinator daemon (C6). It owns startup/shutdown ordering,
// the background tickers no single component is responsible for, and the
// command handlers exposed to connected clients.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poppobuilder/coordinator/pkg/config"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/ownership"
	"github.com/poppobuilder/coordinator/pkg/protocol"
	"github.com/poppobuilder/coordinator/pkg/quota"
	"github.com/poppobuilder/coordinator/pkg/scheduler"
	"github.com/poppobuilder/coordinator/pkg/store"
	"github.com/poppobuilder/coordinator/pkg/tracker"
)

// Daemon is the coordinator daemon: the top-level object cmd/coordinatord
// constructs, bootstraps and shuts down.
type Daemon struct {
	cfg     config.Config
	version string

	store          store.Store
	broker         *events.Broker
	ownership      *ownership.Coordinator
	quota          *quota.Manager
	scheduler      *scheduler.Scheduler
	projects       *ProjectRegistry
	tokens         *protocol.TokenManager
	registry       *protocol.Registry
	server         *protocol.Server
	storeTransport *protocol.StoreTransport
	reconciler     *tracker.Reconciler

	metrics       *metricsCollector
	autosave      *ticker
	selfHeartbeat *ticker
	http          *httpServer

	processID string
	startedAt time.Time

	mu sync.Mutex
}

// New constructs a Daemon from cfg but does not start it. trackerClient may
// be nil, in which case tracker label updates are a no-op and the
// reconciler is never started regardless of cfg.Tracker.ReconcileEnabled.
func New(cfg config.Config, version string, trackerClient tracker.Client) (*Daemon, error) {
	s, err := newStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()

	var labelUpdater ownership.LabelUpdater
	if trackerClient != nil {
		labelUpdater = trackerClient
	}
	coord := ownership.NewCoordinator(cfg.OwnershipCoordinatorConfig(), s, broker, labelUpdater)

	quotaCfg, err := cfg.QuotaManagerConfig()
	if err != nil {
		return nil, err
	}
	quotaMgr := quota.NewManager(quotaCfg, broker)

	sched, err := scheduler.New(cfg.SchedulerManagerConfig(), broker)
	if err != nil {
		return nil, fmt.Errorf("daemon: scheduler: %w", err)
	}

	projects := NewProjectRegistry(s)

	var tokens *protocol.TokenManager
	if cfg.Protocol.AuthRequired {
		tokens = protocol.NewTokenManager()
	}

	socketPath := cfg.Protocol.SocketPath
	if socketPath == "" {
		socketPath, err = protocol.DefaultSocketPath()
		if err != nil {
			return nil, fmt.Errorf("daemon: socket path: %w", err)
		}
	}

	registry := protocol.NewRegistry()
	server := protocol.NewServer(protocol.ServerConfig{
		SocketPath:   socketPath,
		AuthRequired: cfg.Protocol.AuthRequired,
		Tokens:       tokens,
	}, registry, broker)

	hostname, _ := os.Hostname()
	processID := "coordinator-" + hostname + "-" + uuid.New().String()[:8]

	d := &Daemon{
		cfg:       cfg,
		version:   version,
		store:     s,
		broker:    broker,
		ownership: coord,
		quota:     quotaMgr,
		scheduler: sched,
		projects:  projects,
		tokens:    tokens,
		registry:  registry,
		server:    server,
		processID: processID,
	}

	if cfg.Protocol.StoreTransportEnabled {
		d.storeTransport = protocol.NewStoreTransport(s, registry)
	}

	if cfg.Tracker.ReconcileEnabled && trackerClient != nil {
		d.reconciler = tracker.NewReconciler(trackerClient, d.listProcessingIssues, tracker.WithInterval(cfg.Tracker.ReconcileInterval))
	}

	d.metrics = newMetricsCollector(projects)
	d.autosave = newTicker(orDefaultDuration(cfg.Scheduler.AutoSaveInterval, 30*time.Second), d.autosaveTick)
	d.selfHeartbeat = newTicker(orDefaultDuration(cfg.Ownership.HeartbeatTTL/3, 10*time.Minute), d.selfHeartbeatTick)
	d.http = newHTTPServer(d)

	d.registerCommands()

	return d, nil
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(context.Background(), cfg.Addr, cfg.Password, cfg.DB)
	default:
		return nil, fmt.Errorf("daemon: unknown store backend %q", cfg.Backend)
	}
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Bootstrap brings every subsystem up in dependency order: project registry
// load, event broker, the two self-contained background loops
// (orphan scanner, re-allocation sweep), this daemon's own tickers, the
// optional tracker reconciler, and finally the control-channel listener —
// grounded on a Bootstrap-style construction order, generalized from one
// cluster subsystem to five.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	d.startedAt = time.Now()

	if err := d.projects.Load(ctx); err != nil {
		return err
	}
	for _, p := range d.projects.List() {
		d.quota.SetQuota(p.ID, p.Quota, p.Priority)
		d.scheduler.SetProjectWeight(p.ID, p.ShareWeight)
	}

	d.broker.Start()
	d.ownership.Start()
	d.quota.Start()
	d.metrics.Start()
	d.autosave.Start(ctx)
	d.selfHeartbeat.Start(ctx)

	if d.reconciler != nil {
		d.reconciler.Start(ctx)
	}

	if err := d.http.Start(); err != nil {
		return fmt.Errorf("daemon: http listen: %w", err)
	}

	if err := d.server.Listen(); err != nil {
		return fmt.Errorf("daemon: protocol listen: %w", err)
	}

	if d.storeTransport != nil {
		if err := d.storeTransport.Start(ctx); err != nil {
			return fmt.Errorf("daemon: store transport: %w", err)
		}
	}

	log.WithComponent("daemon").Info().
		Str("process_id", d.processID).
		Str("socket", d.cfg.Protocol.SocketPath).
		Msg("coordinator daemon started")
	return nil
}

// Shutdown stops every subsystem in the reverse of Bootstrap's order,
// mirroring a Shutdown method's stop-dependents-before-owners discipline.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if d.storeTransport != nil {
		d.storeTransport.Stop()
	}
	_ = d.server.Close()
	_ = d.http.Stop(ctx)

	if d.reconciler != nil {
		d.reconciler.Stop()
	}

	d.selfHeartbeat.Stop()
	d.autosave.Stop()
	d.metrics.Stop()
	d.quota.Stop()
	d.ownership.Stop()

	if err := d.scheduler.Save(); err != nil {
		log.WithComponent("daemon").Warn().Err(err).Msg("final scheduler save failed")
	}

	d.broker.Stop()

	if err := d.store.Close(); err != nil {
		return fmt.Errorf("daemon: close store: %w", err)
	}
	log.WithComponent("daemon").Info().Msg("coordinator daemon stopped")
	return nil
}

// Reload stores a freshly-loaded Config as the daemon's current config and
// publishes a config.reloaded event. It does not change the running ticker
// intervals, the scheduler policy, project quotas, the store backend, the
// socket path or the auth policy; those keep the values they had at startup.
func (d *Daemon) Reload(cfg config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.broker.Publish(&events.Event{Type: events.EventConfigReloaded, Message: "configuration reloaded"})
	log.WithComponent("daemon").Info().Msg("configuration reloaded")
}

func (d *Daemon) autosaveTick(context.Context) {
	if err := d.scheduler.Save(); err != nil {
		log.WithComponent("daemon").Warn().Err(err).Msg("scheduler autosave failed")
	}
}

func (d *Daemon) selfHeartbeatTick(ctx context.Context) {
	if err := d.ownership.Heartbeat(ctx, d.processID); err != nil {
		log.WithComponent("daemon").Warn().Err(err).Msg("self heartbeat failed")
	}
}

func (d *Daemon) listProcessingIssues(ctx context.Context) ([]tracker.ProcessingIssue, error) {
	owned, err := d.ownership.ListProcessing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.ProcessingIssue, 0, len(owned))
	for _, o := range owned {
		out = append(out, tracker.ProcessingIssue{IssueID: o.IssueID, Status: string(o.Status)})
	}
	return out, nil
}

// Uptime returns how long Bootstrap has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}
