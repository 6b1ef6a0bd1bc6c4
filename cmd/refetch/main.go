// refetch repeatedly fetches one HTTP resource over plain TCP and buffers
// the response bodies for an interactive console.
//
//	refetch --host example.com --path /index.html --capacity 10
//
// Type "get data" to see the oldest buffered body, "exit" to quit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/refetch"
	"github.com/Zereker/refetch/internal/config"
	"github.com/Zereker/refetch/internal/console"
	"github.com/Zereker/refetch/internal/httpstub"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	host        string
	port        int
	path        string
	capacity    int
	overflow    string
	maxCycles   int
	metricsAddr string
	logLevel    string
	logFormat   string
	serveStub   bool
}

func run(args []string) error {
	var f flags
	flagSet := pflag.NewFlagSet("refetch", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&f.host, "host", "", "target host")
	flagSet.IntVar(&f.port, "port", refetch.DefaultPort, "target port")
	flagSet.StringVar(&f.path, "path", "", "target path")
	flagSet.IntVar(&f.capacity, "capacity", 0, "maximum number of buffered bodies")
	flagSet.StringVar(&f.overflow, "overflow", "", "overflow policy: drop_newest or drop_oldest")
	flagSet.IntVar(&f.maxCycles, "max-cycles", 0, "stop fetching after this many cycles (0 = forever)")
	flagSet.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	flagSet.BoolVar(&f.serveStub, "serve-stub", false, "fetch from a built-in local stub server")
	versionFlag := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *versionFlag {
		fmt.Println("refetch", version)
		return nil
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(flagSet, f, &cfg)
	if err := cfg.Validate(); err != nil {
		return pkgerrors.Wrap(err, "invalid configuration")
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	if f.serveStub {
		stub, err := startStub(ctx, group, logger)
		if err != nil {
			return pkgerrors.Wrap(err, "start stub server")
		}
		cfg.Target = config.TargetConfig{Host: stub.Addr().IP.String(), Port: stub.Addr().Port, Path: "/"}
	}

	registry := newRegistry()
	buffer := refetch.NewBuffer[[]byte](cfg.Buffer.Capacity, cfg.OverflowPolicy())
	cons := console.New(os.Stdin, os.Stdout, buffer, logger)

	opts := append(cfg.FetchOptions(),
		refetch.LoggerOption(logger),
		refetch.RegistererOption(registry),
		refetch.OnErrorOption(cons.ReportError),
	)
	fetcher, err := refetch.NewFetcher(cfg.TargetValue(), buffer, opts...)
	if err != nil {
		return pkgerrors.Wrap(err, "create fetcher")
	}

	if cfg.Metrics.Address != "" {
		serveMetrics(ctx, group, cfg.Metrics.Address, registry, logger)
	}

	group.Go(func() error {
		err := fetcher.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		defer cancel()
		err := cons.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return group.Wait()
}

func applyFlags(flagSet *pflag.FlagSet, f flags, cfg *config.Config) {
	if flagSet.Changed("host") {
		cfg.Target.Host = f.host
	}
	if flagSet.Changed("port") {
		cfg.Target.Port = f.port
	}
	if flagSet.Changed("path") {
		cfg.Target.Path = f.path
	}
	if flagSet.Changed("capacity") {
		cfg.Buffer.Capacity = f.capacity
	}
	if flagSet.Changed("overflow") {
		cfg.Buffer.Overflow = f.overflow
	}
	if flagSet.Changed("max-cycles") {
		cfg.Fetch.MaxCycles = f.maxCycles
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Metrics.Address = f.metricsAddr
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "refetch_info",
		Help: "refetch application information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)
	registry.MustRegister(info)
	return registry
}

func serveMetrics(ctx context.Context, group *errgroup.Group, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	group.Go(func() error {
		logger.Info("metrics endpoint started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return pkgerrors.Wrap(err, "metrics endpoint")
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// startStub serves a page that changes every fifth connection, so both
// "get data" outcomes can be seen without network access.
func startStub(ctx context.Context, group *errgroup.Group, logger *slog.Logger) (*httpstub.Server, error) {
	stub, err := httpstub.New("127.0.0.1:0", func(n int) []byte {
		return httpstub.OK(fmt.Sprintf("<html><body>stub page %d</body></html>", n/5))
	}, httpstub.LoggerOption(logger))
	if err != nil {
		return nil, err
	}
	group.Go(func() error {
		err := stub.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return stub, nil
}
