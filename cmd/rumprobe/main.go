// Command rumprobe is a synthetic host for the agent. It loads a page,
// fetches follow-up resources through instrumented HTTP, optionally walks
// client-side routes and sends the resulting beacons to the collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/rumbeacon/internal/agent"
	"github.com/dshills/rumbeacon/internal/config"
	"github.com/dshills/rumbeacon/internal/logging"
	"github.com/dshills/rumbeacon/internal/plugin"
	"github.com/dshills/rumbeacon/internal/plugins/continuity"
	"github.com/dshills/rumbeacon/internal/plugins/early"
	"github.com/dshills/rumbeacon/internal/plugins/errlog"
	"github.com/dshills/rumbeacon/internal/plugins/history"
	"github.com/dshills/rumbeacon/internal/plugins/memory"
	"github.com/dshills/rumbeacon/internal/plugins/mobile"
	"github.com/dshills/rumbeacon/internal/plugins/navtiming"
	"github.com/dshills/rumbeacon/internal/plugins/painttiming"
	"github.com/dshills/rumbeacon/internal/plugins/restiming"
	"github.com/dshills/rumbeacon/internal/plugins/rt"
	"github.com/dshills/rumbeacon/internal/plugins/usertiming"
	"github.com/dshills/rumbeacon/internal/session"
	"github.com/dshills/rumbeacon/internal/timing"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	config      string
	page        string
	beaconURL   string
	fetch       list
	routes      list
	scripts     list
	sessionFile string
	timeout     time.Duration
	settle      time.Duration
	logLevel    string
	development bool
	showVersion bool
}

// list is a repeatable, comma-separated string flag.
type list []string

func (l *list) String() string { return strings.Join(*l, ",") }

func (l *list) Set(s string) error {
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
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
		fmt.Printf("rumprobe %s (%s)\n", version, commit)
		return 0
	}

	logger, err := logging.New(logging.Config{
		Level:       opts.logLevel,
		Development: opts.development,
		Name:        "rumprobe",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := probe(ctx, opts, logger); err != nil {
		logger.Error("probe failed", zap.Error(err))
		return 1
	}
	return 0
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("rumprobe", flag.ContinueOnError)
	fs.StringVar(&opts.config, "config", "", "agent configuration file (toml, yaml or json)")
	fs.StringVar(&opts.page, "page", "", "page URL to navigate to")
	fs.StringVar(&opts.beaconURL, "beacon-url", "", "collector URL, overrides beacon_url")
	fs.Var(&opts.fetch, "fetch", "URLs fetched after the page loads (repeatable, comma-separated)")
	fs.Var(&opts.routes, "route", "client-side routes pushed after the page loads (repeatable, comma-separated)")
	fs.Var(&opts.scripts, "script", "Lua plugin files (repeatable, comma-separated)")
	fs.StringVar(&opts.sessionFile, "session", "", "file that keeps the session across runs")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP timeout")
	fs.DurationVar(&opts.settle, "settle", 2*time.Second, "time given to pending beacons before unload")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&opts.development, "dev", false, "human-readable development logging")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("RUMPROBE")); err != nil {
		return opts, err
	}
	if opts.page == "" && !opts.showVersion {
		return opts, errors.New("-page is required")
	}
	return opts, nil
}

func loadConfig(opts options, logger *zap.Logger) (*config.Config, error) {
	cfgOpts := []config.Option{config.WithEnv(""), config.WithLogger(logger.Named("config"))}
	if opts.config != "" {
		cfgOpts = append(cfgOpts, config.WithFile(opts.config))
	}
	cfg := config.New(cfgOpts...)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.beaconURL != "" {
		if err := cfg.Set(config.KeyBeaconURL, opts.beaconURL); err != nil {
			return nil, err
		}
	}
	if cfg.Options().BeaconURL == "" {
		return nil, errors.New("no beacon_url configured")
	}
	if opts.config != "" {
		if err := cfg.Watch(); err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}
	return cfg, nil
}

// collectors are the plugins the probe feeds directly.
type collectors struct {
	history *history.Plugin
	paint   *painttiming.Plugin
	user    *usertiming.Plugin
	mobile  *mobile.Plugin
}

// newAgent creates the agent with the standard plugin set.
func newAgent(cfg *config.Config, opts options, logger *zap.Logger) (*agent.Agent, collectors, error) {
	agentOpts := []agent.Option{agent.WithConfig(cfg), agent.WithLogger(logger.Named("agent"))}
	if opts.sessionFile != "" {
		agentOpts = append(agentOpts, agent.WithSessionStore(session.NewFileStore(opts.sessionFile)))
	}
	a := agent.New(agentOpts...)
	host := a.Host()

	c := collectors{
		history: history.New(host, a),
		paint:   painttiming.New(host),
		user:    usertiming.New(host),
		mobile:  mobile.New(host),
	}
	for _, p := range []plugin.Plugin{
		rt.New(host),
		navtiming.New(host),
		c.paint,
		restiming.New(host, a.Timings()),
		c.user,
		errlog.New(host),
		memory.New(host),
		c.mobile,
		continuity.New(host),
		early.New(host),
		c.history,
	} {
		if err := a.Register(p); err != nil {
			return nil, collectors{}, err
		}
	}
	for _, path := range opts.scripts {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := a.RegisterScript(name, path); err != nil {
			return nil, collectors{}, err
		}
	}
	return a, c, nil
}

// observeNavigation feeds what the page fetch revealed to the paint and
// connection collectors. Without rendering, the first byte of the body
// stands in for first paint and the end of the body for first contentful
// paint.
func (c collectors) observeNavigation(nav timing.Navigation) {
	c.paint.Record(painttiming.FirstPaint, nav.DOMLoading)
	c.paint.Record(painttiming.FirstContentfulPaint, nav.ResponseEnd)
	if !nav.ConnectStart.IsZero() && nav.ConnectEnd.After(nav.ConnectStart) {
		conn := c.mobile.Connection()
		conn.RTT = nav.ConnectEnd.Sub(nav.ConnectStart)
		c.mobile.SetConnection(conn)
	}
}

func probe(ctx context.Context, opts options, logger *zap.Logger) error {
	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return err
	}
	defer cfg.Close()

	a, coll, err := newAgent(cfg, opts, logger)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: opts.timeout}
	a.Instrument(client)

	runCtx, cancel := context.WithCancel(context.Background())
	g := new(errgroup.Group)
	g.Go(func() error { return a.Run(runCtx) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	a.SetPage(opts.page, "")
	a.VisibilityChanged(agent.VisibilityVisible)
	a.Init()

	nav, final, err := newNavigator(opts.timeout).Navigate(ctx, opts.page)
	if err != nil {
		a.ReportError(err)
	} else {
		a.SetPage(final, "")
		a.SetNavigation(nav)
		coll.observeNavigation(nav)
		logger.Info("page loaded",
			zap.String("url", final),
			zap.Duration("backend", nav.BackEnd()),
			zap.Int("redirects", nav.RedirectCount))
	}
	a.DOMLoaded()
	a.Loaded(time.Now())

	for _, u := range opts.fetch {
		start := time.Now()
		if err := fetch(ctx, client, u); err != nil {
			logger.Warn("fetch failed", zap.String("url", u), zap.Error(err))
			a.ReportError(err)
			continue
		}
		coll.user.Measure("fetch "+u, start, time.Now())
	}
	for _, r := range opts.routes {
		coll.user.Mark("route "+r, time.Now())
		coll.history.Push(r, nil)
		if err := wait(ctx, opts.settle); err != nil {
			break
		}
	}

	if err := wait(ctx, opts.settle); err == nil {
		a.PageUnload()
	}

	disposeCtx, done := context.WithTimeout(context.Background(), opts.timeout)
	defer done()
	if err := a.Dispose(disposeCtx); err != nil {
		return fmt.Errorf("dispose: %w", err)
	}
	logger.Info("probe finished", zap.Int("beacons", a.Transmitter().Count()))
	return nil
}

func fetch(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
