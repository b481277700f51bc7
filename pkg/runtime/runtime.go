// Package runtime assembles the claim-processing components from
// configuration: agent service client, specialist catalog and deployment
// machinery, execution store, token accounting, observability, and the
// orchestrator on top. Commands build a Runtime, work through its
// accessors, and Close it on the way out.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/evaluation"
	"github.com/arbiterhq/arbiter/pkg/fabric"
	"github.com/arbiterhq/arbiter/pkg/httpclient"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/observability"
	"github.com/arbiterhq/arbiter/pkg/orchestrator"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/usage"
)

// Runtime is the wired component graph behind one orchestrator.
type Runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	obs      *observability.Manager
	client   *agentruntime.HTTPClient
	catalog  *specialist.Catalog
	registry *specialist.Registry
	deployer *specialist.Deployer
	store    store.Store
	source   fabric.Source
	orch     *orchestrator.Orchestrator
}

// Option customizes runtime assembly.
type Option func(*Runtime)

// WithLogger sets the logger every component is built with.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) { r.logger = log }
}

// New assembles a runtime. The config must have defaults applied and be
// validated; New opens the store and the analytics fallback source and
// initializes tracing, but deploys nothing remotely.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.GetLogger()
	}
	log := r.logger

	client, err := agentruntime.NewHTTPClient(agentruntime.Config{
		BaseURL:     cfg.Runtime.Endpoint,
		APIVersion:  cfg.Runtime.APIVersion,
		TokenSource: agentruntime.StaticTokenSource(cfg.Runtime.APIKey),
		Timeout:     cfg.Runtime.RequestTimeout,
		MaxRetries:  cfg.Runtime.MaxRetries,
		TLS:         tlsSettings(cfg.Runtime.TLS),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent service client: %w", err)
	}
	r.client = client

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	r.store = st

	tracker := usage.NewTracker(st, log)
	estimator := usage.NewEstimator(tracker, cfg.Usage.EstimateMissing, log)

	// The span observer is always attached so token accounting works even
	// when trace export is disabled.
	r.obs = observability.NewManager(cfg.Observability, usage.NewSpanObserver(tracker))
	if err := r.obs.Initialize(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	driver := agentruntime.NewRunDriver(client, log)

	r.catalog = specialist.NewCatalog(specialist.CatalogConfig{
		SpecialistModel: cfg.Runtime.SpecialistModel,
		SupervisorModel: cfg.Runtime.SupervisorModel,
		Temperature:     cfg.Runtime.Temperature,
		Instructions:    cfg.Workflow.Instructions,
		FabricTool:      cfg.Fabric.Connection,
	})
	r.registry = specialist.NewRegistry(r.catalog)
	r.deployer = specialist.NewDeployer(client, r.catalog, r.registry, log)

	var source fabric.Source
	if cfg.Fabric.Driver != "" {
		sqlSource, err := fabric.OpenSQLSource(cfg.Fabric.Driver, cfg.Fabric.DSN)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to open analytics fallback source: %w", err)
		}
		r.source = sqlSource
		source = sqlSource
	}
	fallback := specialist.NewFallback(source, log)

	adapters := specialist.NewAdapters(r.registry, r.catalog, driver, fallback, specialist.AdapterConfig{
		PollInterval:    cfg.Runtime.PollInterval,
		MaxPollDuration: cfg.Runtime.PollDeadline,
	}, log)

	var evaluator evaluation.Evaluator
	if config.BoolValue(cfg.Evaluation.Enabled, true) {
		evaluator = evaluation.NewAgentEvaluator(client, driver, cfg.Evaluation.Model, log)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Client:    client,
		Runner:    driver,
		Deployer:  r.deployer,
		Catalog:   r.catalog,
		Registry:  r.registry,
		Adapters:  adapters,
		Store:     st,
		Tracker:   tracker,
		Estimator: estimator,
		Evaluator: evaluator,
		Config: orchestrator.Config{
			AnalyticsEnabled: cfg.Workflow.Analytics,
			PollInterval:     cfg.Runtime.PollInterval,
			MaxPollDuration:  cfg.Runtime.PollDeadline,
		},
		Logger: log,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.orch = orch

	return r, nil
}

// tlsSettings maps the config TLS block to client settings. A zero block
// means the system defaults.
func tlsSettings(cfg config.TLSConfig) *httpclient.TLSConfig {
	if cfg.CACertificate == "" && !cfg.InsecureSkipVerify {
		return nil
	}
	return &httpclient.TLSConfig{
		CACertificate:      cfg.CACertificate,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite", "postgres", "mysql":
		st, err := store.OpenSQLStore(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
		}
		return st, nil
	case "mongo":
		st, err := store.OpenMongoStore(ctx, cfg.DSN, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Deploy ensures every specialist the configured workflow needs exists on
// the remote service.
func (r *Runtime) Deploy(ctx context.Context) error {
	return r.deployer.DeploySpecialists(ctx, r.cfg.Workflow.Analytics)
}

func (r *Runtime) Config() *config.Config {
	return r.cfg
}

func (r *Runtime) Orchestrator() *orchestrator.Orchestrator {
	return r.orch
}

func (r *Runtime) Catalog() *specialist.Catalog {
	return r.catalog
}

func (r *Runtime) Deployer() *specialist.Deployer {
	return r.deployer
}

func (r *Runtime) Store() store.Store {
	return r.store
}

func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Close releases everything New opened. Safe on a partially built
// runtime.
func (r *Runtime) Close() error {
	var errs []error

	if r.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
		cancel()
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("analytics source close: %w", err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	return errors.Join(errs...)
}
