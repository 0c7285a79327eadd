package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/internal/config"
	"github.com/poudelalish/blockchain-inventory/internal/core"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
	"github.com/poudelalish/blockchain-inventory/internal/events"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// ledger is a fully wired service plus the resources it holds open.
type ledger struct {
	svc      *core.Service
	registry *prometheus.Registry
	tracer   *core.OTelTracer
	closers  []io.Closer
}

func (l *ledger) Close(ctx context.Context) error {
	var errs []error
	if l.tracer != nil {
		errs = append(errs, l.tracer.Shutdown(ctx))
	}
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openLedger builds the service described by the loaded configuration and
// bootstraps the configured owner.
func (a *app) openLedger(ctx context.Context, traceOut io.Writer) (_ *ledger, err error) {
	cfg := a.cfg
	l := &ledger{}
	defer func() {
		if err != nil {
			_ = l.Close(context.Background())
		}
	}()

	engine := core.NewDefaultRulesEngine()
	store, closer, err := core.OpenPersistentStore(ctx, cfg.Storage, engine)
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, closer)

	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithAuditRecorder(core.NewLogAuditRecorder(a.logger)),
	}
	if cfg.Metrics.Enabled {
		l.registry = prometheus.NewRegistry()
		l.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := core.NewPrometheusMetricsRecorder(l.registry)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
	}
	if cfg.Tracing.Enabled {
		tracer, err := core.NewOTelTracer(cfg.Tracing, traceOut)
		if err != nil {
			return nil, err
		}
		l.tracer = tracer
		opts = append(opts, core.WithTracer(tracer))
	}
	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, publisher)
	opts = append(opts, core.WithEventPublisher(publisher))

	l.svc = core.NewService(store, opts...)
	if len(cfg.Policies) > 0 {
		plugin, err := core.NewPolicyPlugin(cfg.Policies)
		if err != nil {
			return nil, err
		}
		meta, err := l.svc.InstallPlugin(plugin)
		if err != nil {
			return nil, err
		}
		a.logger.Info().Str("plugin", meta.Name).Strs("rules", meta.Rules).Msg("policies installed")
	}

	if err := a.bootstrap(ctx, l.svc); err != nil {
		return nil, err
	}
	return l, nil
}

// bootstrap records the configured owner on first start. A store that already
// has a different owner refuses to open.
func (a *app) bootstrap(ctx context.Context, svc *core.Service) error {
	existing, err := svc.Owner(ctx)
	if err != nil {
		return err
	}
	owner := domain.Address(a.cfg.Owner)
	if owner.IsZero() {
		if existing.IsZero() {
			return fmt.Errorf("owner must be configured before the ledger is first started")
		}
		return nil
	}
	if _, err := svc.Bootstrap(ctx, owner); err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}
	return nil
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "rabbitmq":
		return events.NewRabbitPublisher(cfg.RabbitMQ)
	case "memory":
		return events.NewMemory(), nil
	default:
		return events.Nop{}, nil
	}
}

// openDirectory opens the blob store holding the deployment directory.
func (a *app) openDirectory(ctx context.Context) (*directory.Directory, error) {
	store, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, err
	}
	return directory.New(store,
		directory.WithKey(a.cfg.Directory.Key),
		directory.WithCacheTTL(a.cfg.Directory.CacheTTL),
	), nil
}

// watchDirectory invalidates the directory cache when the backing file
// changes. Only the filesystem blob driver has a file to watch.
func (a *app) watchDirectory(dir *directory.Directory) (*directory.Watcher, error) {
	if !a.cfg.Directory.Watch {
		return nil, nil
	}
	driver, err := blob.ParseDriver(a.cfg.Blob.Driver)
	if err != nil || driver != blob.DriverFilesystem {
		a.logger.Warn().Str("driver", a.cfg.Blob.Driver).Msg("directory watch needs the fs blob driver")
		return nil, nil
	}
	path := filepath.Join(a.cfg.Blob.FSRoot, filepath.FromSlash(dir.Key()))
	w, err := directory.WatchDirectory(dir, path, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return nil, err
	}
	return w, nil
}

// recordDeployment publishes this ledger's address under the configured
// network id.
func (a *app) recordDeployment(ctx context.Context, dir *directory.Directory) (directory.Deployment, error) {
	dep := directory.Deployment{
		Address:    a.cfg.HTTP.PublicURLOrDefault(),
		Owner:      a.cfg.Owner,
		DeployedAt: time.Now().UTC(),
	}
	if err := dir.Record(ctx, a.cfg.NetworkID, dep); err != nil {
		return directory.Deployment{}, err
	}
	return dep, nil
}
