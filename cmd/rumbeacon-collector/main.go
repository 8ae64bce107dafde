// Command rumbeacon-collector receives, stores and streams beacons.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/rumbeacon/internal/collector"
	"github.com/dshills/rumbeacon/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	addr        string
	db          string
	rate        float64
	burst       int
	maxBody     int64
	maxStreams  int
	origins     string
	trustProxy  bool
	logLevel    string
	development bool
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Printf("rumbeacon-collector %s (%s)\n", version, commit)
		return 0
	}

	logger, err := logging.New(logging.Config{
		Level:       opts.logLevel,
		Development: opts.development,
		Name:        "collector",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, opts, logger); err != nil {
		logger.Error("collector failed", zap.Error(err))
		return 1
	}
	return 0
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("rumbeacon-collector", flag.ContinueOnError)
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:8123", "listen address")
	fs.StringVar(&opts.db, "db", "beacons.db", "SQLite database path")
	fs.Float64Var(&opts.rate, "rate", float64(collector.DefaultRate), "beacons per second per client; 0 disables limiting")
	fs.IntVar(&opts.burst, "burst", collector.DefaultBurst, "per-client burst")
	fs.Int64Var(&opts.maxBody, "max-body", collector.DefaultMaxBody, "largest accepted POST body in bytes")
	fs.IntVar(&opts.maxStreams, "max-streams", collector.DefaultMaxStreams, "largest number of live stream clients")
	fs.StringVar(&opts.origins, "origins", "", "comma-separated allowed origins; empty allows any")
	fs.BoolVar(&opts.trustProxy, "trust-proxy", false, "identify clients by X-Forwarded-For")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&opts.development, "dev", false, "human-readable development logging")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("RUMBEACON_COLLECTOR"))
	return opts, err
}

func (o options) serverOptions(logger *zap.Logger) []collector.Option {
	limit := rate.Limit(o.rate)
	if o.rate <= 0 {
		limit = rate.Inf
	}
	so := []collector.Option{
		collector.WithLogger(logger),
		collector.WithRate(limit, o.burst),
		collector.WithMaxBody(o.maxBody),
		collector.WithMaxStreams(o.maxStreams),
		collector.WithTrustProxy(o.trustProxy),
	}
	if o.origins != "" {
		var origins []string
		for _, s := range strings.Split(o.origins, ",") {
			if s = strings.TrimSpace(s); s != "" {
				origins = append(origins, s)
			}
		}
		so = append(so, collector.WithAllowedOrigins(origins...))
	}
	return so
}

func serve(ctx context.Context, opts options, logger *zap.Logger) error {
	store, err := collector.OpenStore(opts.db)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := collector.NewServer(store, opts.serverOptions(logger)...)
	httpSrv := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.addr), zap.String("db", opts.db))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
