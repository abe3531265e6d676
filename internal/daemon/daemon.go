// Package daemon wires every singleton component together: Secret Vault,
// Metadata Store, Session Store, Policy Registry, Activity Log, Notifier,
// Approval Manager, Session Manager, and Control Plane listener. It owns
// startup ordering (restore_on_boot, restore_timers_on_boot) and graceful
// shutdown (drain providers, unlink socket, exit).
//
// Grounded on the teacher's cmd/witnessd/ipc_daemon.go + daemon_unix.go:
// an IPCDaemon struct with Start/Stop, signal handling via os/signal and
// syscall.SIGINT/SIGTERM.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"intercessio/internal/activity"
	"intercessio/internal/approval"
	"intercessio/internal/config"
	"intercessio/internal/control"
	"intercessio/internal/errs"
	"intercessio/internal/logging"
	"intercessio/internal/metadata"
	"intercessio/internal/notifier"
	"intercessio/internal/policy"
	"intercessio/internal/session"
	"intercessio/internal/store"
	"intercessio/internal/vault"
)

// Daemon holds every process-lifetime singleton.
type Daemon struct {
	cfg    config.Config
	paths  config.Paths
	logger *logging.Logger

	vault     vault.Vault
	metaStore *metadata.Store
	store     *store.Store
	registry  *policy.Registry
	activity  *activity.Log
	notifier  *notifier.Notifier
	approvals *approval.Manager
	sessions  *session.Manager
	control   *control.Server
	watcher   *config.Watcher
	startedAt time.Time
	stopOnce  sync.Once
}

// New constructs every singleton but does not yet bind the control socket
// or start sessions; call Run for that.
func New(cfg config.Config, paths config.Paths, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	if err := config.EnsureDir(paths.Dir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}

	metaStore, err := metadata.Open(paths.Dir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	v, err := vault.OpenFileVault(paths.SecretsFile, paths.SaltFile)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSecretVaultFailure, "open secret vault", err)
	}

	st, err := store.Open(paths.DatabaseFile)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "open session store", err)
	}
	if cfg.SQLiteBusyTimeoutMs > 0 {
		if err := st.SetBusyTimeout(cfg.SQLiteBusyTimeoutMs); err != nil {
			logger.Warn("failed to set sqlite busy timeout", "error", err)
		}
	}

	registry := policy.NewRegistry()
	activityLog := activity.NewLog()

	n := notifier.New(notifier.Config{
		Topic:         cfg.Notifier.Topic,
		BaseURL:       cfg.Notifier.BaseURL,
		ReviewBaseURL: cfg.Notifier.ReviewBaseURL,
	}, logger)

	approvals := approval.NewManager(st, n, logger)

	sessions := session.NewManager(st, v, metaStore, registry, activityLog, approvals, logger, cfg.ApprovalTTL())

	d := &Daemon{
		cfg: cfg, paths: paths, logger: logger,
		vault: v, metaStore: metaStore, store: st, registry: registry,
		activity: activityLog, notifier: n, approvals: approvals, sessions: sessions,
	}

	d.control = control.NewServer(paths.SocketFile, control.Dependencies{
		Sessions: sessions, Approvals: approvals, Log: activityLog,
	}, logger, d.requestShutdown)

	return d, nil
}

// requestShutdown is passed to the control server as the handler for the
// "shutdown" request tag.
func (d *Daemon) requestShutdown() {
	d.Stop()
}

// onConfigChange applies a hot-reloaded Config to the components that can
// take it without a restart: the notifier's topic/base URL and the
// session manager's default approval TTL. Everything else (log
// level/format, sqlite busy timeout, data dir) requires a restart to
// take effect.
func (d *Daemon) onConfigChange(cfg config.Config) {
	d.cfg = cfg
	d.notifier.UpdateConfig(notifier.Config{
		Topic:         cfg.Notifier.Topic,
		BaseURL:       cfg.Notifier.BaseURL,
		ReviewBaseURL: cfg.Notifier.ReviewBaseURL,
	})
	d.sessions.UpdateApprovalTTL(cfg.ApprovalTTL())
}

// Run acquires the single-instance guard, restores durable state, binds
// the control socket, and blocks until ctx is cancelled or a termination
// signal arrives.
func (d *Daemon) Run(ctx context.Context) int {
	if err := control.AcquireSingleton(d.paths.SocketFile); err != nil {
		if errs.Is(err, errs.ErrAlreadyRunning) {
			d.logger.Info("another daemon instance owns the socket, exiting cleanly")
			return 0
		}
		d.logger.Error("singleton guard failed", "error", err)
		return 1
	}

	if err := d.approvals.RestoreTimersOnBoot(); err != nil {
		d.logger.Error("failed to restore approval timers", "error", err)
		return 1
	}
	if err := d.sessions.RestoreOnBoot(ctx); err != nil {
		d.logger.Error("failed to restore sessions", "error", err)
		return 1
	}

	if err := d.control.Start(ctx); err != nil {
		d.logger.Error("failed to bind control socket", "error", err)
		return 1
	}

	d.startedAt = time.Now()

	if w, err := config.NewWatcher(d.paths.ConfigFile, d.onConfigChange, d.logger); err != nil {
		d.logger.Warn("config hot-reload disabled", "error", err)
	} else {
		d.watcher = w
	}

	d.logger.Info("daemon started", "socket", d.paths.SocketFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
		d.logger.Info("received termination signal")
	}

	d.Stop()
	return 0
}

// Stop performs the graceful-drain shutdown: stop all providers, close the
// socket, unlink the socket file. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		d.control.Stop()

		records, err := d.sessions.List(true)
		if err == nil {
			for _, r := range records {
				_ = d.sessions.Stop(r.ID, false)
			}
		}

		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close session store", "error", err)
		}
	})
}

// StartedAt returns when Run bound the control socket. Zero until then.
func (d *Daemon) StartedAt() time.Time {
	return d.startedAt
}
