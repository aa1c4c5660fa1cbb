package app

import (
	"context"
	"fmt"
	"time"

	"fieldsync/backend/remote"
	"fieldsync/backend/sqlite"
	fsync "fieldsync/backend/sync"
	"fieldsync/internal/config"
	"fieldsync/internal/credentials"
	coord "fieldsync/internal/sync"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Options selects optional telemetry outputs
type Options struct {
	// Metrics registers Prometheus collectors on a private registry
	Metrics bool
}

// App holds the application state shared by the CLI commands
type App struct {
	config *config.Config
	store  *sqlite.Store
	sink   telemetry.Sink
	health *fsync.HealthMonitor

	registry *prometheus.Registry
	redis    *redis.Client
	alerts   *telemetry.RedisAlertSink

	remote  *remote.Client
	manager *fsync.SyncManager
}

// NewApp opens the local store and sets up telemetry. The remote client is
// created lazily so offline commands never need a server or token.
func NewApp(cfg *config.Config, opts Options) (*App, error) {
	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a := &App{config: cfg, store: store}

	logger := utils.GetLogger().Zerolog()
	sinks := telemetry.Multi{telemetry.NewLogSink(logger)}

	if opts.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := telemetry.NewMetricsSink(a.registry)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		sinks = append(sinks, metrics)
	}

	if cfg.Alerts.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Alerts.RedisAddr,
			Password: cfg.Alerts.RedisPassword,
			DB:       cfg.Alerts.RedisDB,
		})
		a.alerts = telemetry.NewRedisAlertSink(a.redis, cfg.Alerts.RedisKey, cfg.Alerts.MaxEntries, logger)
		sinks = append(sinks, a.alerts)
	}

	a.sink = sinks
	a.health = fsync.NewHealthMonitor(cfg.Health.FailureThreshold, cfg.Health.StaleThreshold, a.sink)

	if a.registry != nil {
		a.registerHealthGauges()
	}
	return a, nil
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config { return a.config }

// Store returns the local task store
func (a *App) Store() *sqlite.Store { return a.store }

// Sink returns the telemetry fan-out
func (a *App) Sink() telemetry.Sink { return a.sink }

// Health returns the process-wide health monitor
func (a *App) Health() *fsync.HealthMonitor { return a.health }

// Registry returns the metrics registry, or nil when metrics are off
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Alerts returns the redis alert sink, or nil when not configured
func (a *App) Alerts() *telemetry.RedisAlertSink { return a.alerts }

// Remote returns the task server client, resolving the API token on first use
func (a *App) Remote() (*remote.Client, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	if a.config.API.BaseURL == "" {
		return nil, utils.ErrServerNotConfigured()
	}
	if a.config.RiderID == "" {
		return nil, utils.ErrRiderNotConfigured()
	}

	token, err := credentials.NewResolver().Resolve(a.config.API.BaseURL, a.config.RiderID, a.config.API.Token)
	if err != nil {
		return nil, err
	}
	if token.Source == credentials.SourceNone {
		return nil, utils.ErrTokenNotFound(a.config.RiderID)
	}
	utils.Debugf("Using API token from %s", token.Source)

	client, err := remote.NewClient(remote.Options{
		BaseURL:           a.config.API.BaseURL,
		Token:             token.Value,
		Timeout:           a.config.API.Timeout,
		RequestsPerSecond: a.config.API.RequestsPerSecond,
		Burst:             a.config.API.Burst,
	})
	if err != nil {
		return nil, err
	}
	a.remote = client
	return client, nil
}

// SyncManager returns the sync engine bound to the store and remote
func (a *App) SyncManager() (*fsync.SyncManager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	client, err := a.Remote()
	if err != nil {
		return nil, err
	}
	manager, err := fsync.NewSyncManager(a.store, client, a.config.SyncOptions(), a.sink, a.health)
	if err != nil {
		return nil, utils.ErrInvalidConfig("sync", err.Error())
	}
	a.manager = manager
	return manager, nil
}

// Coordinator builds the background scheduler around the sync engine
func (a *App) Coordinator() (*coord.SyncCoordinator, error) {
	manager, err := a.SyncManager()
	if err != nil {
		return nil, err
	}
	s := a.config.Sync
	return coord.NewSyncCoordinator(manager, a.store, coord.Options{
		PeriodicInterval:     s.PeriodicSyncInterval,
		WorkerInitialBackoff: s.WorkerInitialBackoff,
		MaxWorkerRetries:     s.MaxWorkerRetries,
		CycleTimeout:         s.CycleTimeout,
		PruneSyncedAfter:     s.PruneSyncedAfter,
	}, a.sink)
}

// registerHealthGauges exposes the health monitor and queue depth
func (a *App) registerHealthGauges() {
	a.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed push cycles.",
		}, func() float64 {
			return float64(a.health.Snapshot().ConsecutiveFailures)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "healthy",
			Help:      "1 when sync health is HEALTHY, else 0.",
		}, func() float64 {
			if a.health.Status() == fsync.HealthHealthy {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "unsynced_actions",
			Help:      "Actions waiting to be pushed, excluding quarantined ones.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			stats, err := a.store.Stats(ctx, a.config.Sync.MaxRetriesPerAction)
			if err != nil {
				return 0
			}
			return float64(stats.UnsyncedActions)
		}),
	)
}

// Close releases the store and redis connection
func (a *App) Close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
