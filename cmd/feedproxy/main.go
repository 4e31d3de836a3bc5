package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/feedproxy/pkg/config"
	"github.com/umputun/feedproxy/pkg/proxy"
	"github.com/umputun/feedproxy/server"
)

// Opts with all CLI options
type Opts struct {
	Config    string        `short:"c" long:"config" env:"FEED_CONFIG_LOCATION" default:"/config/feeds.yaml" description:"feed config file"`
	Listen    string        `short:"l" long:"listen" env:"LISTEN" default:"0.0.0.0:8123" description:"listen address"`
	Timeout   time.Duration `long:"timeout" env:"UPSTREAM_TIMEOUT" default:"30s" description:"upstream request timeout"`
	UserAgent string        `long:"user-agent" env:"USER_AGENT" default:"feedproxy" description:"user agent for upstream requests"`
	Check     bool          `long:"check" description:"fetch every feed once, report and exit"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	color.NoColor = color.NoColor || opts.NoColor
	setupLog(opts.Debug)

	log.Printf("[INFO] starting feedproxy version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	err := run(ctx, opts)
	cancel()

	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

// run loads feeds and serves them until ctx is canceled
func run(ctx context.Context, opts Opts) error {
	if _, err := os.Stat(opts.Config); err != nil {
		return fmt.Errorf("feed config file %q not found, create it or set FEED_CONFIG_LOCATION: %w", opts.Config, err)
	}
	log.Printf("[INFO] using config file %s", opts.Config)

	feeds, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("[INFO] loaded %d feeds", len(feeds.Feeds))

	// secrets are known only now, re-setup logger to mask them
	setupLog(opts.Debug, feeds.Secrets()...)

	dispatcher := proxy.NewDispatcher(proxy.Params{Timeout: opts.Timeout, UserAgent: opts.UserAgent})

	if opts.Check {
		return check(ctx, dispatcher, feeds)
	}

	srv := server.New(server.Config{
		Listen:  opts.Listen,
		Timeout: opts.Timeout + 10*time.Second,
		Version: revision,
		Debug:   opts.Debug,
	}, feeds, dispatcher)

	return srv.Run(ctx)
}

// check fetches all feeds once and reports results, fails if any feed failed
func check(ctx context.Context, d *proxy.Dispatcher, feeds *config.FeedList) error {
	failed := 0
	for _, r := range proxy.NewChecker(d).Check(ctx, feeds.Feeds) {
		if r.Err != nil {
			failed++
			log.Printf("[WARN] %s: %v", r.Path, r.Err)
			continue
		}
		log.Printf("[INFO] %s: %q, %d items", r.Path, r.Title, r.Items)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d feeds failed", failed, len(feeds.Feeds))
	}
	return nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
