package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/recallmesh/config"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/memory"
	memsqlite "github.com/hupe1980/recallmesh/memory/sqlite"
	"github.com/hupe1980/recallmesh/model"
	"github.com/hupe1980/recallmesh/model/anthropic"
	"github.com/hupe1980/recallmesh/model/openai"
	"github.com/hupe1980/recallmesh/orchestrator"
	"github.com/hupe1980/recallmesh/plugin"
	"github.com/hupe1980/recallmesh/runner"
	"github.com/hupe1980/recallmesh/session"
	sessredis "github.com/hupe1980/recallmesh/session/redis"
	sesssqlite "github.com/hupe1980/recallmesh/session/sqlite"
)

// newModel builds the provider model. Tests replace it with a scripted one.
var newModel = providerModel

// app bundles the stores, model and plugins a command runs with.
type app struct {
	cfg      *config.Config
	out      io.Writer
	logger   logging.Logger
	sessions core.SessionStore
	memory   core.MemoryStore
	llm      model.Model
	metrics  *plugin.MetricsPlugin
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, out, errOut io.Writer) (*app, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		out:     out,
		logger:  logging.NewConsoleLogger(errOut, level, "recallmesh"),
		metrics: plugin.NewMetricsPlugin(),
	}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	llm, err := newModel(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.llm = model.WithRetry(llm, cfg.Retry.Policy(), func(o *model.RetryOptions) {
		o.Logger = a.logger
	})

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}

	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Session.Backend {
	case "sqlite":
		store, err := sesssqlite.Open(a.cfg.Session.DSN, func(o *sesssqlite.Options) { o.Logger = a.logger })
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}

		a.sessions = store
		a.closers = append(a.closers, store.Close)
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: a.cfg.Session.Addr})
		a.closers = append(a.closers, rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", a.cfg.Session.Addr, err)
		}

		a.sessions = sessredis.New(rdb, func(o *sessredis.Options) { o.Logger = a.logger })
	default:
		a.sessions = session.NewInMemoryStore()
	}

	switch a.cfg.Memory.Backend {
	case "sqlite":
		store, err := memsqlite.Open(a.cfg.Memory.DSN, func(o *memsqlite.Options) { o.Logger = a.logger })
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}

		a.memory = store
		a.closers = append(a.closers, store.Close)
	default:
		a.memory = memory.NewInMemoryStore()
	}

	return nil
}

func providerModel(cfg *config.Config) (model.Model, error) {
	key, err := config.LoadCredential(cfg.EnvFile, cfg.ProviderCredentialKey())
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("cli.metrics.serve_failed", "addr", addr, "error", err)
		}
	}()

	a.logger.Info("cli.metrics.listening", "addr", addr)

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(ctx)
	})
}

// runner builds a runner for root with the app's stores and the logging and
// metrics plugins.
func (a *app) runner(root core.Agent, optFns ...func(o *runner.Options)) *runner.Runner {
	fns := append([]func(o *runner.Options){func(o *runner.Options) {
		o.AppName = a.cfg.AppName
		o.SessionStore = a.sessions
		o.MemoryStore = a.memory
		o.Logger = a.logger
		o.Plugins = []plugin.Plugin{plugin.NewLoggingPlugin(a.logger), a.metrics}

		if c := a.cfg.Compaction; c.Interval > 0 {
			o.Compaction = &runner.CompactionConfig{
				Interval:   c.Interval,
				Overlap:    c.Overlap,
				Summarizer: runner.ModelSummarizer{Model: a.llm},
			}
		}
	}}, optFns...)

	return runner.New(root, fns...)
}

func (a *app) orchestrator(r *runner.Runner, observers ...plugin.Plugin) *orchestrator.Orchestrator {
	return orchestrator.New(r, a.sessions, func(o *orchestrator.Options) {
		o.UserID = a.cfg.UserID
		o.Output = a.out
		o.Logger = a.logger
		o.Observers = observers
	})
}

// Close releases stores and stops the metrics server.
func (a *app) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}

	return errors.Join(errs...)
}

// withApp runs fn with an app built from the loaded configuration.
func withApp(ctx context.Context, out io.Writer, fn func(a *app) error) error {
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	a, err := newApp(ctx, cfg, out, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
