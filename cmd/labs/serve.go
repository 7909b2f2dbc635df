package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/reactive-labs/internal/config"
	"github.com/signalsfoundry/reactive-labs/internal/display"
	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/observability"
	"github.com/signalsfoundry/reactive-labs/internal/products"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
	"github.com/signalsfoundry/reactive-labs/timectrl"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every lab over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.New(cfg.Logging()), prometheus.NewRegistry())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file")
	return cmd
}

// app is everything serve wires together, split out so tests can drive the
// router without a listener.
type app struct {
	sched    *sched.Scheduler
	clock    *timectrl.TimeController
	catalog  *display.Catalog
	store    *products.Store
	router   http.Handler
	schedMet *observability.SchedulerCollector
}

func newApp(cfg config.Config, log logging.Logger, promReg *prometheus.Registry) (*app, error) {
	labMetrics, err := observability.NewLabCollector(promReg)
	if err != nil {
		return nil, err
	}
	schedMetrics, err := observability.NewSchedulerCollector(promReg)
	if err != nil {
		return nil, err
	}

	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, cfg.Mode())
	s := sched.New(tc, sched.WithErrorHandler(func(h sched.Handle, err error) {
		log.Error(context.Background(), "scheduled action failed", logging.String("handle", h.String()), logging.Err(err))
	}))
	tc.AddListener(func(time.Time) {
		start := time.Now()
		s.RunDue()
		schedMetrics.ObserveDrain(time.Since(start), s)
	})

	f := fetch.NewHTTP(s, fetch.WithLogger(log))
	registry := labs.Default(labs.Deps{Config: cfg.Labs, Fetcher: f, PostsURL: cfg.PostsURL})
	cat := display.NewCatalog(registry, s,
		scenario.WithLogger(log),
		scenario.WithRecorder(labMetrics),
	)
	store := products.NewStore(products.NewRemoteSource(f, cfg.ProductsURL), products.WithLogger(log))

	srv := display.NewServer(cat,
		display.WithProducts(store),
		display.WithMetrics(labMetrics),
		display.WithLogger(log),
	)
	return &app{
		sched:    s,
		clock:    tc,
		catalog:  cat,
		store:    store,
		router:   srv.Router(),
		schedMet: schedMetrics,
	}, nil
}

func (a *app) Close() {
	a.catalog.Close()
	a.store.Close()
	a.sched.Close()
}

func serve(ctx context.Context, cfg config.Config, log logging.Logger, promReg *prometheus.Registry) error {
	tracing, err := observability.StartTracing(ctx, cfg.Tracing(), log)
	if err != nil {
		return err
	}
	defer tracing.Shutdown(context.Background())

	a, err := newApp(cfg, log, promReg)
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.clock.Run(ctx, 0)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info(ctx, "serving labs", logging.String("addr", cfg.Addr), logging.String("clock", cfg.Mode().String()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info(context.Background(), "shutting down labs server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	a.store.Refresh(ctx)
	return g.Wait()
}
