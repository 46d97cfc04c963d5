// Command interpreterd runs the interpreter runtime: it loads settings,
// spawns workers on demand and serves the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/psantana5/interpreter-runtime/internal/config"
	"github.com/psantana5/interpreter-runtime/pkg/api"
	"github.com/psantana5/interpreter-runtime/pkg/interpreter"
	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/metrics"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/ratelimit"
	"github.com/psantana5/interpreter-runtime/pkg/shutdown"
	"github.com/psantana5/interpreter-runtime/pkg/store"
	tlsutil "github.com/psantana5/interpreter-runtime/pkg/tls"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string
	var logFile bool

	cmd := &cobra.Command{
		Use:          "interpreterd",
		Short:        "Interpreter runtime daemon",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.String("listen", "", "admin API listen address")
	flags.String("metrics-listen", "", "metrics listen address, empty disables")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store", "", "journal store: memory, sqlite or postgres")
	flags.BoolVar(&logFile, "log-file", false, "also write logs under the log directory")

	// flags override the config file only when set
	v.BindPFlag("listen", flags.Lookup("listen"))
	v.BindPFlag("metrics_listen", flags.Lookup("metrics-listen"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("store.type", flags.Lookup("store"))
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logFile bool) error {
	logger, err := newLogger(cfg, logFile)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger = logger.WithComponent("interpreterd")

	mgr := shutdown.New(30*time.Second, logger)

	cfg.Tracing.ServiceVersion = version
	tracer, err := tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	mgr.Register("tracing", tracer.Shutdown)

	journal, err := store.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	mgr.Register("store", shutdown.CloseResource(journal, "store"))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := interpreter.NewRegistry(interpreter.Deps{
		Launcher:       process.NewExecLauncher(logger),
		Store:          journal,
		Metrics:        m,
		Tracer:         tracer,
		Logger:         logger,
		Process:        cfg.Process,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	})
	if err := reg.Load(cfg.Settings); err != nil {
		mgr.Shutdown()
		return err
	}
	mgr.Register("registry", reg.Close)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go sweepLimiters(mgr.Done(), limiter)
	}
	router := api.NewRouter(api.NewHandler(reg, logger), api.RouterOptions{Tracer: tracer, Limiter: limiter})

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // interpret calls block for as long as the code runs
		IdleTimeout:  120 * time.Second,
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := tlsutil.ServerConfig(cfg.TLS)
		if err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}
	mgr.Register("api", shutdown.StopHTTPServer(srv, "api"))
	go serve(srv, "api", mgr, logger)

	if cfg.MetricsListen != "" {
		metricsSrv := &http.Server{
			Addr:         cfg.MetricsListen,
			Handler:      metrics.Handler(promReg),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		mgr.Register("metrics", shutdown.StopHTTPServer(metricsSrv, "metrics"))
		go serve(metricsSrv, "metrics", mgr, logger)
	}

	logger.Info("Interpreter runtime started", map[string]interface{}{
		"listen":   cfg.Listen,
		"metrics":  cfg.MetricsListen,
		"store":    cfg.Store.Type,
		"settings": len(cfg.Settings),
	})

	if ctx == nil {
		ctx = context.Background()
	}
	if err := mgr.WaitWithContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return mgr.Shutdown()
		}
		return err
	}
	return nil
}

func newLogger(cfg *config.Config, logFile bool) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if !logFile {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}
	logger, err := logging.NewFileLogger("interpreterd", "daemon", level, cfg.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}

func serve(srv *http.Server, name string, mgr *shutdown.Manager, logger *logging.Logger) {
	logger.Info("Server listening", map[string]interface{}{"server": name, "addr": srv.Addr, "tls": srv.TLSConfig != nil})
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", map[string]interface{}{"server": name, "error": err.Error()})
		mgr.Trigger()
	}
}

func sweepLimiters(done <-chan struct{}, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			limiter.CleanupOldLimiters(10 * time.Minute)
		}
	}
}
