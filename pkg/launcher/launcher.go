// Package launcher assembles a complete unit host from a runtime
// configuration: logging, fault reporting, tracing, the execution pool,
// the runtime itself, bundle auto-deployment, and the HTTP and NATS
// transports. A host binary is little more than LoadConfig, NewLauncher,
// and Run.
package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	natsclient "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/internal/logging"
	"github.com/wehubfusion/Hestia/internal/nats"
	"github.com/wehubfusion/Hestia/internal/tracing"
	"github.com/wehubfusion/Hestia/pkg/bundle"
	"github.com/wehubfusion/Hestia/pkg/concurrency"
	"github.com/wehubfusion/Hestia/pkg/events"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/faults"
	"github.com/wehubfusion/Hestia/pkg/gateway"
	"github.com/wehubfusion/Hestia/pkg/messaging"
	"github.com/wehubfusion/Hestia/pkg/runtime"
	"github.com/wehubfusion/Hestia/pkg/storage"
	"github.com/wehubfusion/Hestia/pkg/units"
	"github.com/wehubfusion/Hestia/pkg/units/status"
)

const (
	// manifestSuffix marks deployable bundle manifests in the deploy
	// directory.
	manifestSuffix = ".bundle.toml"

	// watchSettle debounces deploy directory events so a manifest still
	// being copied is read once, whole.
	watchSettle = 200 * time.Millisecond

	serviceName = "hestia-host"
)

// Launcher runs a complete host from a Config. A Launcher is single-use:
// Run launches the host, blocks, and tears everything down before
// returning.
type Launcher struct {
	config Config

	mu sync.Mutex
	rt *runtime.Runtime
}

// NewLauncher creates a launcher for config.
func NewLauncher(config Config) (*Launcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Launcher{config: config}, nil
}

// Runtime returns the hosted runtime once Run has built it, and nil
// before. It stays valid after Run returns, reporting inactive.
func (l *Launcher) Runtime() *runtime.Runtime {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt
}

// Run launches the host and blocks until ctx is cancelled, a transport
// fails, or the runtime is shut down through its handle. The runtime is
// always shut down before Run returns; a launch failure is logged and
// returned.
func (l *Launcher) Run(ctx context.Context) error {
	logger, err := logging.New(logging.Config{
		Level:       l.config.Logging.Level,
		Directory:   l.config.Logging.Directory,
		Development: l.config.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo := concurrency.InitializeForKubernetes()
	defer undo()

	handlerName := l.config.Faults.Handler
	if handlerName == "" {
		handlerName = "log"
	}
	reporter, err := faults.New(handlerName, faults.Config{
		DSN:         l.config.Faults.DSN,
		Environment: l.config.Faults.Environment,
		Release:     l.config.Version,
	}, logger)
	if err != nil {
		logger.Error("Fault handler setup failed", zap.Error(err))
		return err
	}
	defer reporter.Close()

	if l.config.Tracing.Enabled {
		tracingConfig := tracing.DefaultConfig(serviceName)
		tracingConfig.ServiceVersion = l.config.Version
		if l.config.Tracing.Endpoint != "" {
			tracingConfig.OTLPEndpoint = l.config.Tracing.Endpoint
		}
		if l.config.Tracing.Protocol != "" {
			tracingConfig.Protocol = l.config.Tracing.Protocol
		}
		if l.config.Tracing.Environment != "" {
			tracingConfig.Environment = l.config.Tracing.Environment
		}
		if l.config.Tracing.SampleRatio > 0 {
			tracingConfig.SampleRatio = l.config.Tracing.SampleRatio
		}
		shutdown, err := tracing.Setup(ctx, tracingConfig, logger)
		if err != nil {
			logger.Warn("Tracing setup failed, continuing without tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(shutdown, logger) }()
		}
	}

	units.RegisterBuiltins()

	svc, err := execution.NewPooled(execution.Config{
		Workers:   l.config.Executor.Workers,
		QueueSize: l.config.Executor.QueueSize,
	}, logger)
	if err != nil {
		logger.Error("Execution service setup failed", zap.Error(err))
		return err
	}

	var conn *natsclient.Conn
	if l.config.NATS.URL != "" {
		conn, err = nats.Connect(ctx, l.natsConfig(), logger)
		if err != nil {
			logger.Error("NATS connection failed", zap.Error(err))
			return err
		}
		defer func() { _ = nats.Close(conn) }()
	}

	rt, err := runtime.NewRuntime(svc, logger)
	if err != nil {
		logger.Error("Runtime setup failed", zap.Error(err))
		return err
	}
	rt.WithFaults(reporter)

	l.mu.Lock()
	l.rt = rt
	l.mu.Unlock()

	// hostDown wakes Run when the runtime is shut down from inside, e.g.
	// through a unit's handle. The runtime runs the hook at most once.
	hostDown := make(chan struct{})
	var publisher *events.Publisher
	if conn != nil {
		publisher, err = events.NewPublisher(conn)
		if err != nil {
			logger.Error("Event publisher setup failed", zap.Error(err))
			return err
		}
	}
	hooks := runtime.Hooks{
		OnShutdown: func(unitsHosted int) {
			if publisher != nil {
				publisher.RuntimeShutdown(context.Background(), unitsHosted)
			}
			close(hostDown)
		},
	}
	if publisher != nil {
		hooks.OnActivate = func() error {
			publisher.RuntimeActivated(ctx, l.config.Version)
			return nil
		}
		hooks.OnUnitAdded = func(path string) {
			publisher.UnitDeployed(ctx, path, "")
		}
		hooks.OnUnitRemoved = func(path string) {
			publisher.UnitRemoved(ctx, path)
		}
	}
	rt.WithHooks(hooks)

	fail := func(stage string, err error) error {
		logger.Error("Launch failed", zap.String("stage", stage), zap.Error(err))
		rt.Shutdown()
		return err
	}

	if err := rt.Activate(); err != nil {
		logger.Error("Launch failed", zap.String("stage", "activate"), zap.Error(err))
		return err
	}

	statusUnit, err := status.New(status.Options{
		Paths:   rt.Units,
		Version: l.config.Version,
	}, logger)
	if err == nil {
		err = rt.Add(statusUnit, nil, nil)
	}
	if err != nil {
		return fail("status unit", err)
	}

	store, err := l.newResolver(logger)
	if err != nil {
		return fail("storage", err)
	}
	deployer, err := bundle.NewDeployer(rt, store, l.config.Version, logger)
	if err != nil {
		return fail("deployer", err)
	}
	if err := l.deployConfigured(ctx, deployer, logger); err != nil {
		return fail("deploy", err)
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	var serving sync.WaitGroup
	serveErr := make(chan error, 2)

	if l.config.Gateway.Enabled {
		server, err := gateway.NewServer(rt, gateway.Config{
			Addr:   l.config.Gateway.Addr,
			Prefix: l.config.Gateway.Prefix,
		}, logger)
		if err != nil {
			return fail("gateway", err)
		}
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := server.Run(serveCtx); err != nil {
				serveErr <- fmt.Errorf("gateway: %w", err)
			}
		}()
	}

	if conn != nil {
		listener, err := messaging.NewListener(conn, rt, messaging.Config{
			Prefix: l.config.NATS.Prefix,
			Queue:  l.config.NATS.Queue,
		}, logger)
		if err != nil {
			return fail("listener", err)
		}
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := listener.Run(serveCtx); err != nil {
				serveErr <- fmt.Errorf("messaging: %w", err)
			}
		}()
	}

	if l.config.Deploy.Watch {
		serving.Add(1)
		go func() {
			defer serving.Done()
			l.watchDeployDir(serveCtx, deployer, l.config.Deploy.Directory, logger)
		}()
	}

	logger.Info("Host running",
		zap.String("version", l.config.Version),
		zap.Int("units", len(rt.Units())),
		zap.Bool("gateway", l.config.Gateway.Enabled),
		zap.Bool("nats", conn != nil))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signalled")
	case err := <-serveErr:
		logger.Error("Transport failed", zap.Error(err))
		runErr = err
	case <-hostDown:
		logger.Info("Runtime shut down from inside")
	}

	// transports drain before the runtime disposes units, so in-flight
	// dispatches finish against live units
	stopServing()
	serving.Wait()
	if err := rt.ShutdownAwait(l.config.Grace()); err != nil {
		logger.Warn("Shutdown drain incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("Host stopped")
	return runErr
}

func (l *Launcher) natsConfig() *nats.ConnectionConfig {
	config := nats.DefaultConnectionConfig(l.config.NATS.URL)
	if l.config.NATS.Name != "" {
		config.Name = l.config.NATS.Name
	}
	config.Token = l.config.NATS.Token
	config.Username = l.config.NATS.Username
	config.Password = l.config.NATS.Password
	return config
}

func (l *Launcher) newResolver(logger *zap.Logger) (*storage.Resolver, error) {
	var blob *storage.BlobFetcher
	if l.config.Deploy.BlobConnection != "" {
		fetcher, err := storage.NewBlobFetcher(l.config.Deploy.BlobConnection, l.config.Deploy.BlobContainer, logger)
		if err != nil {
			return nil, err
		}
		blob = fetcher
	}
	base := l.config.Deploy.Directory
	if base == "" {
		base = "."
	}
	return storage.NewResolver(base, blob, logger)
}

// deployConfigured deploys the explicit manifest list, then the deploy
// directory scan. In strict mode the first failure aborts the launch;
// otherwise failures are logged and the remaining bundles still deploy.
func (l *Launcher) deployConfigured(ctx context.Context, deployer *bundle.Deployer, logger *zap.Logger) error {
	manifests := append([]string(nil), l.config.Deploy.Manifests...)
	if dir := l.config.Deploy.Directory; dir != "" {
		scanned, err := scanManifests(dir)
		if err != nil {
			return err
		}
		manifests = append(manifests, scanned...)
	}

	for _, manifest := range manifests {
		if err := deployer.Deploy(ctx, manifest); err != nil {
			if l.config.Deploy.Strict {
				return fmt.Errorf("deploying %s: %w", manifest, err)
			}
			logger.Error("Bundle deployment failed",
				zap.String("manifest", manifest),
				zap.Error(err))
		}
	}
	return nil
}

// scanManifests lists the *.bundle.toml files directly under dir in sorted
// order.
func scanManifests(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning deploy directory %s: %w", dir, err)
	}
	var manifests []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), manifestSuffix) {
			continue
		}
		manifests = append(manifests, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(manifests)
	return manifests, nil
}

// watchDeployDir deploys manifests as they appear in dir. A failed watched
// deployment is logged and the watch continues; duplicate paths are
// rejected by the runtime's registry.
func (l *Launcher) watchDeployDir(ctx context.Context, deployer *bundle.Deployer, dir string, logger *zap.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("Deploy watch unavailable", zap.Error(err))
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		logger.Error("Deploy watch failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	logger.Info("Watching deploy directory", zap.String("dir", dir))

	pending := map[string]struct{}{}
	var settle *time.Timer
	var settled <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, manifestSuffix) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if settle == nil {
				settle = time.NewTimer(watchSettle)
				settled = settle.C
			} else {
				settle.Reset(watchSettle)
			}
		case <-settled:
			for _, manifest := range sortedKeys(pending) {
				if err := deployer.Deploy(ctx, manifest); err != nil {
					logger.Error("Bundle deployment failed",
						zap.String("manifest", manifest),
						zap.Error(err))
				}
			}
			pending = map[string]struct{}{}
			settle = nil
			settled = nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Deploy watch error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
