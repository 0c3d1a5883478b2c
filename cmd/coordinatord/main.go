// Command coordinatord runs the coordinator daemon (C6): it loads
// configuration, bootstraps the store, ownership, quota, scheduler and
// control-plane subsystems, and blocks until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/poppobuilder/coordinator/pkg/config"
	"github.com/poppobuilder/coordinator/pkg/daemon"
	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/log"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const (
	exitOK              = 0
	exitStartupError    = 1
	exitInvalidConfig   = 2
	exitStoreUnreachable = 3
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "Coordinator daemon: scheduling, ownership and quota for multi-project automation",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (defaults built in if omitted)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	cobra.OnInitialize(initLogging)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupError)
	}
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitInvalidConfig)
	}

	d, err := daemon.New(cfg, version, nil)
	if err != nil {
		if errs.Is(err, errs.Unavailable) {
			fmt.Fprintf(os.Stderr, "store unreachable: %v\n", err)
			os.Exit(exitStoreUnreachable)
		}
		fmt.Fprintf(os.Stderr, "failed to construct daemon: %v\n", err)
		os.Exit(exitStartupError)
	}

	ctx := context.Background()
	if err := d.Bootstrap(ctx); err != nil {
		if cfg.Store.Backend == "redis" {
			fmt.Fprintf(os.Stderr, "store unreachable: %v\n", err)
			os.Exit(exitStoreUnreachable)
		}
		fmt.Fprintf(os.Stderr, "failed to bootstrap daemon: %v\n", err)
		os.Exit(exitStartupError)
	}

	sigCh := make(chan os.Signal, 1)
	reloadCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadCh, syscall.SIGHUP)

	watcher, watchCh := watchConfig(configPath)
	if watcher != nil {
		defer watcher.Close()
	}

	log.WithComponent("coordinatord").Info().Str("version", version).Msg("ready")

	for {
		select {
		case <-sigCh:
			fmt.Println("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := d.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
				os.Exit(exitStartupError)
			}
			fmt.Println("shutdown complete")
			os.Exit(exitOK)
		case <-reloadCh:
			reloadConfig(d)
		case <-watchCh:
			reloadConfig(d)
		}
	}
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func reloadConfig(d *daemon.Daemon) {
	cfg, err := loadConfig()
	if err != nil {
		log.WithComponent("coordinatord").Warn().Err(err).Msg("reload: invalid configuration, keeping running config")
		return
	}
	d.Reload(cfg)
}

// watchConfig returns a channel that fires whenever the config file on disk
// changes, so edits take effect without a restart. A nil watcher (no config
// file in use) means the channel never fires.
func watchConfig(path string) (*fsnotify.Watcher, <-chan struct{}) {
	if path == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithComponent("coordinatord").Warn().Err(err).Msg("config watch disabled")
		return nil, nil
	}
	if err := w.Add(path); err != nil {
		log.WithComponent("coordinatord").Warn().Err(err).Msg("config watch disabled")
		w.Close()
		return nil, nil
	}

	out := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, out
}
