// Package config loads and hot-reloads the coordinator daemon's on-disk
// YAML configuration: store backend selection, quota defaults, scheduler
// policy, the control-channel socket path, and ticker intervals for the
// daemon's background loops.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poppobuilder/coordinator/pkg/ownership"
	"github.com/poppobuilder/coordinator/pkg/quota"
	"github.com/poppobuilder/coordinator/pkg/scheduler"
)

// StoreConfig selects and configures the shared-store backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // "redis" or "memory"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProtocolConfig configures the control-channel listener.
type ProtocolConfig struct {
	SocketPath   string        `yaml:"socketPath"`
	AuthRequired bool          `yaml:"authRequired"`
	TokenTTL     time.Duration `yaml:"tokenTTL"`

	// HealthAddr is the listen address for the /healthz and /metrics HTTP
	// endpoints. Empty disables the HTTP surface entirely; the Unix socket
	// remains the normative control plane either way.
	HealthAddr string `yaml:"healthAddr"`

	// StoreTransportEnabled turns on the optional secondary control-plane
	// route over the shared store's pub/sub channels
	// (poppo:channel:mirin:requests/responses). The Unix socket above
	// remains normative regardless; this is off by default per spec.md's
	// open question on the redundant store-channel path.
	StoreTransportEnabled bool `yaml:"storeTransportEnabled"`
}

// QuotaConfig mirrors quota.Config with YAML tags; CPU/memory are strings
// so operators can write "4" or "8Gi" the way k8s.io/apimachinery parses
// them, rather than pre-converted floats/bytes.
type QuotaConfig struct {
	SystemCPU            string        `yaml:"systemCpu"`
	SystemMemory         string        `yaml:"systemMemory"`
	SystemReserve        float64       `yaml:"systemReserve"`
	ReallocationInterval time.Duration `yaml:"reallocationInterval"`
	HistoryCapacity      int           `yaml:"historyCapacity"`
}

// OwnershipConfig mirrors ownership.Config with YAML tags.
type OwnershipConfig struct {
	LockTTL              time.Duration `yaml:"lockTtl"`
	HeartbeatTTL         time.Duration `yaml:"heartbeatTtl"`
	OrphanScanInterval   time.Duration `yaml:"orphanScanInterval"`
	DeadlockScanInterval time.Duration `yaml:"deadlockScanInterval"`
}

// SchedulerConfig mirrors scheduler.Config with YAML tags.
type SchedulerConfig struct {
	Policy           string        `yaml:"policy"`
	MaxRetries       int           `yaml:"maxRetries"`
	DebounceInterval time.Duration `yaml:"debounceInterval"`
	AutoSaveInterval time.Duration `yaml:"autoSaveInterval"`
	PersistPath      string        `yaml:"persistPath"`
	SnapshotDir      string        `yaml:"snapshotDir"`
	SnapshotCount    int           `yaml:"snapshotCount"`
}

// TrackerConfig configures the optional label-reconciliation background loop.
type TrackerConfig struct {
	ReconcileEnabled  bool          `yaml:"reconcileEnabled"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
}

// Config is the coordinator daemon's complete on-disk configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Quota     QuotaConfig     `yaml:"quota"`
	Ownership OwnershipConfig `yaml:"ownership"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracker   TrackerConfig   `yaml:"tracker"`
}

// Default returns a Config with every section at its package default,
// suitable for running without a config file at all.
func Default() Config {
	sched := scheduler.DefaultConfig()
	own := ownership.Config{}
	return Config{
		Store: StoreConfig{Backend: "memory"},
		Protocol: ProtocolConfig{
			TokenTTL:   time.Hour,
			HealthAddr: "127.0.0.1:8085",
		},
		Quota: QuotaConfig{
			SystemReserve:        0.20,
			ReallocationInterval: 60 * time.Second,
			HistoryCapacity:      1000,
		},
		Ownership: OwnershipConfig{
			LockTTL:              orDefault(own.LockTTL, 5*time.Minute),
			HeartbeatTTL:         orDefault(own.HeartbeatTTL, 30*time.Minute),
			OrphanScanInterval:   orDefault(own.OrphanScanInterval, 5*time.Minute),
			DeadlockScanInterval: orDefault(own.DeadlockScanInterval, 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			Policy:           string(sched.Policy),
			MaxRetries:       sched.MaxRetries,
			DebounceInterval: sched.DebounceInterval,
			AutoSaveInterval: sched.AutoSaveInterval,
			SnapshotCount:    sched.SnapshotCount,
		},
		Tracker: TrackerConfig{
			ReconcileEnabled:  false,
			ReconcileInterval: 5 * time.Minute,
		},
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Load reads and parses the YAML file at path, starting from Default() so
// an omitted section keeps its package default rather than zero-ing out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// QuotaManagerConfig converts the QuotaConfig section to quota.Config,
// parsing SystemCPU/SystemMemory as k8s.io/apimachinery resource quantities.
func (c Config) QuotaManagerConfig() (quota.Config, error) {
	out := quota.Config{
		SystemReserve:        c.Quota.SystemReserve,
		ReallocationInterval: c.Quota.ReallocationInterval,
		HistoryCapacity:      c.Quota.HistoryCapacity,
	}
	if c.Quota.SystemCPU != "" {
		cpu, err := quota.ParseCPU(c.Quota.SystemCPU)
		if err != nil {
			return quota.Config{}, fmt.Errorf("config: systemCpu: %w", err)
		}
		out.SystemCPU = cpu
	}
	if c.Quota.SystemMemory != "" {
		mem, err := quota.ParseMemory(c.Quota.SystemMemory)
		if err != nil {
			return quota.Config{}, fmt.Errorf("config: systemMemory: %w", err)
		}
		out.SystemMemory = mem
	}
	return out, nil
}

// OwnershipCoordinatorConfig converts the OwnershipConfig section to
// ownership.Config.
func (c Config) OwnershipCoordinatorConfig() ownership.Config {
	return ownership.Config{
		LockTTL:              c.Ownership.LockTTL,
		HeartbeatTTL:         c.Ownership.HeartbeatTTL,
		OrphanScanInterval:   c.Ownership.OrphanScanInterval,
		DeadlockScanInterval: c.Ownership.DeadlockScanInterval,
	}
}

// SchedulerManagerConfig converts the SchedulerConfig section to scheduler.Config.
func (c Config) SchedulerManagerConfig() scheduler.Config {
	return scheduler.Config{
		Policy:           scheduler.Policy(c.Scheduler.Policy),
		MaxRetries:       c.Scheduler.MaxRetries,
		DebounceInterval: c.Scheduler.DebounceInterval,
		AutoSaveInterval: c.Scheduler.AutoSaveInterval,
		PersistPath:      c.Scheduler.PersistPath,
		SnapshotDir:      c.Scheduler.SnapshotDir,
		SnapshotCount:    c.Scheduler.SnapshotCount,
	}
}
