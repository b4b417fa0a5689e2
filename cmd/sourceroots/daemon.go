package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/admin"
	"github.com/platinummonkey/sourceroots/pkg/async"
	"github.com/platinummonkey/sourceroots/pkg/config"
	"github.com/platinummonkey/sourceroots/pkg/migration"
	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/model/sqlstore"
	"github.com/platinummonkey/sourceroots/pkg/notify"
	"github.com/platinummonkey/sourceroots/pkg/observability"
	"github.com/platinummonkey/sourceroots/pkg/plugins"
	"github.com/platinummonkey/sourceroots/pkg/roots/builtin"
)

// daemon owns every long-lived component of the process
type daemon struct {
	cfg *config.Config
	log *logrus.Logger

	registry  *plugins.Registry
	db        *sql.DB
	store     *sqlstore.Store
	workspace *model.Workspace
	publisher *notify.StampPublisher
	server    *http.Server
	shutdown  *observability.ShutdownManager
}

// newDaemon builds and wires the components. The stored projects are handed
// to the registry before any plugin source goes live, so every event migrates
// them; folders of plugin types load as placeholders and are adopted by the
// reconcile that follows the attach. ctx bounds the plugin directory watchers
// and must outlive the daemon.
func newDaemon(ctx context.Context, cfg *config.Config, log *logrus.Logger) (d *daemon, err error) {
	d = &daemon{cfg: cfg, log: log}
	d.shutdown = observability.NewShutdownManager(log, nil, cfg.Server.ShutdownTimeout)
	defer func() {
		if err != nil {
			d.shutdown.Shutdown()
		}
	}()

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	} else {
		promRegistry = nil
	}

	engine := migration.NewEngine(migration.Options{
		Logger:      log,
		Metrics:     metrics,
		Parallelism: cfg.Migration.Parallelism,
	})

	d.registry = plugins.NewRegistry(plugins.Options{
		Logger:     log,
		Metrics:    metrics,
		BaseLoader: builtin.Loader(),
		Engine:     engine,
		CacheSize:  cfg.Plugins.CacheSize,
		CacheTTL:   cfg.Plugins.CacheTTL,
	})
	if err := plugins.Install(d.registry); err != nil {
		return d, err
	}
	d.shutdown.RegisterShutdownFunc("registry", func(ctx context.Context) error {
		defer plugins.Uninstall(d.registry)
		return d.registry.Close()
	})

	if cfg.Notify.RedisURL != "" {
		d.publisher, err = notify.NewStampPublisher(notify.Config{
			RedisURL:      cfg.Notify.RedisURL,
			RedisPassword: cfg.Notify.RedisPassword,
			RedisDB:       cfg.Notify.RedisDB,
			Key:           cfg.Notify.Key,
			Channel:       cfg.Notify.Channel,
			Timeout:       cfg.Notify.Timeout,
		}, log, metrics)
		if err != nil {
			return d, err
		}
		d.shutdown.RegisterShutdownFunc("notify", func(ctx context.Context) error {
			return d.publisher.Close()
		})
		if err := d.publisher.Reset(ctx); err != nil {
			return d, err
		}
		d.registry.AddStampListener(d.publisher)
	}

	d.db, err = sqlstore.OpenSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		return d, err
	}
	d.shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return d.db.Close()
	})
	d.store, err = sqlstore.NewStore(d.db, d.registry, log)
	if err != nil {
		return d, err
	}

	d.workspace, err = d.store.LoadWorkspace(ctx)
	if err != nil {
		return d, fmt.Errorf("failed to load workspace: %w", err)
	}
	d.registry.SetProjects(d.workspace)

	if err := d.attachSources(ctx); err != nil {
		return d, err
	}
	if err := d.registry.Reconcile(ctx); err != nil {
		return d, fmt.Errorf("failed to reconcile workspace: %w", err)
	}

	var redisClient *redis.Client
	if d.publisher != nil {
		redisClient = d.publisher.Client()
	}
	health := observability.NewHealthChecker(d.db, redisClient)
	health.AddCheck("registry", false, func(ctx context.Context) error {
		_, err := d.registry.Serializers()
		return err
	})

	d.server = &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: admin.NewServer(admin.Options{
			Registry: d.registry,
			Projects: d.workspace,
			Health:   health,
			Metrics:  promRegistry,
			Logger:   log,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	projects, err := d.workspace.OpenProjects(ctx)
	if err != nil {
		return d, err
	}
	log.WithFields(logrus.Fields{
		"plugins":  len(d.registry.Plugins()),
		"projects": len(projects),
		"stamp":    d.registry.ModificationStamp(),
	}).Info("Source root registry ready")

	return d, nil
}

func (d *daemon) attachSources(ctx context.Context) error {
	attach := func(channel plugins.Channel, dirs []string) error {
		for _, dir := range dirs {
			src := plugins.NewDirSource(plugins.DirSourceOptions{
				Dir:     dir,
				Channel: channel,
				Parent:  builtin.Loader(),
				Logger:  d.log,
			})
			if err := d.registry.Attach(ctx, src); err != nil {
				return err
			}
		}
		return nil
	}

	if err := attach(plugins.ChannelBuild, d.cfg.Plugins.BuildDirs); err != nil {
		return err
	}
	return attach(plugins.ChannelCompileServer, d.cfg.Plugins.CompileServerDirs)
}

// serve runs the admin server until ctx is done or a shutdown signal arrives
func (d *daemon) serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		d.shutdown.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", d.server.Addr, err)
	}
	return d.serveOn(ctx, listener)
}

func (d *daemon) serveOn(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	manager := observability.NewShutdownManager(d.log, d.server, d.cfg.Server.ShutdownTimeout)
	manager.RegisterShutdownFunc("components", func(context.Context) error {
		return d.shutdown.Shutdown()
	})

	if d.publisher != nil {
		stamp := d.registry.ModificationStamp()
		async.SafeGo(ctx, d.cfg.Notify.Timeout, d.log, "publish initial stamp", func(ctx context.Context) error {
			_, err := d.publisher.Publish(ctx, stamp)
			return err
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		d.log.WithField("addr", listener.Addr().String()).Info("Admin server listening")
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := manager.WaitForShutdown(ctx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("admin server failed: %w", err)
	default:
	}

	return shutdownErr
}
