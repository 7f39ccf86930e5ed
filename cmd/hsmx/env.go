package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/config"
	"github.com/comalice/hsmx/internal/logging"
	"github.com/comalice/hsmx/internal/production"
)

const shutdownTimeout = 5 * time.Second

// env is everything a scenario needs from the configuration.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	pub      hsmx.Publisher
	registry *prometheus.Registry
}

func (a *app) load() (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger and trace publishers.
func (a *app) setup() (*env, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	e := &env{
		cfg: cfg,
		log: logging.New(level, format),
	}

	var pubs []hsmx.Publisher
	if cfg.Metrics.Enabled {
		e.registry = prometheus.NewRegistry()
		metrics, err := production.NewMetricsPublisher(e.registry)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, metrics)
	}
	if r := cfg.Trace.Redis; r.Enabled {
		pubs = append(pubs, production.NewRedisPublisher(
			r.Addr, r.Password, r.DB, r.Stream,
			production.WithMaxLen(r.MaxLen),
			production.WithBuffer(cfg.Trace.Buffer),
			production.WithRedisLogger(e.log),
		))
	}
	if len(pubs) > 0 {
		e.pub = production.NewMultiPublisher(pubs...)
	}
	return e, nil
}

// options returns the engine options every scenario engine gets.
func (e *env) options() []hsmx.Option {
	opts := []hsmx.Option{hsmx.WithLogger(e.log)}
	if e.pub != nil {
		opts = append(opts, hsmx.WithPublisher(e.pub))
	}
	return opts
}

// serve runs fn alongside the metrics endpoint, if enabled. The endpoint is
// shut down once fn returns; a listener failure cancels fn's context.
func (e *env) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	defer e.close()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              e.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			e.log.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return srv.Shutdown(shutdown)
		})
	}

	g.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	return g.Wait()
}

func (e *env) close() {
	if e.pub == nil {
		return
	}
	if err := e.pub.Close(); err != nil {
		e.log.Warn("closing trace publishers", "error", err)
	}
}
