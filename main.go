package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vein-cache/vein/internal/config"
	"github.com/vein-cache/vein/internal/inventory"
	"github.com/vein-cache/vein/internal/inventory/open"
	"github.com/vein-cache/vein/internal/logging"
	"github.com/vein-cache/vein/internal/quarantine"
	"github.com/vein-cache/vein/internal/sbom"
	"github.com/vein-cache/vein/internal/server"
	"github.com/vein-cache/vein/internal/storage"
	"github.com/vein-cache/vein/internal/upstream"
	"github.com/vein-cache/vein/internal/version"
)

// Exit codes, per spec §6: 0 success, 1 generic failure, 2 config error, 3
// inventory unreachable.
const (
	exitOK             = 0
	exitFailure        = 1
	exitConfigError    = 2
	exitInventoryError = 3
)

// cliOptions summarizes the parsed CLI arguments, kept separate from flag
// parsing so tests can construct and run() it directly.
type cliOptions struct {
	command     string
	subcommand  string
	configPath  string
	checkOnly   bool
	showVersion bool

	gemName     string
	gemVersion  string
	gemPlatform string
	reason      string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(exitConfigError)
	}
	os.Exit(run(opts))
}

// run executes the resolved CLI options and returns the process exit code.
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return exitConfigError
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return exitConfigError
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["database_driver"] = cfg.Database.Driver()
		fields["delay_policy_enabled"] = cfg.DelayPolicy.Enabled
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config valid")
		return exitOK
	}

	switch opts.command {
	case "", "serve":
		return runServe(cfg, logger)
	case "stats":
		return runStats(cfg, logger)
	case "cache":
		return runCache(cfg, logger, opts)
	case "health":
		return runHealth(cfg, logger)
	case "quarantine":
		return runQuarantine(cfg, logger, opts)
	default:
		fmt.Fprintf(stdErr, "unknown command: %s\n", opts.command)
		return exitConfigError
	}
}

// parseCLIFlags resolves the subcommand (serve/stats/cache/health/
// quarantine, defaulting to serve) and its flags, folding in VEIN_CONFIG
// as the config path fallback below an explicit --config flag. Mirrors
// spec §6's `serve [--config path]`, `stats [--config path]`,
// `cache refresh`, `quarantine {status|list|promote|approve <n> <v>
// [--reason]|block <n> <v> [--reason]}`, `health`.
func parseCLIFlags(args []string) (cliOptions, error) {
	command := ""
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	subcommand := ""
	if (command == "cache" || command == "quarantine") && len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		subcommand = args[0]
		args = args[1:]
	}

	var positional []string
	if command == "quarantine" && (subcommand == "approve" || subcommand == "block") &&
		len(args) >= 2 && args[0][0] != '-' && args[1][0] != '-' {
		positional = append(positional, args[0], args[1])
		args = args[2:]
	}

	fs := flag.NewFlagSet("vein", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		platform   string
		reason     string
	)

	fs.StringVar(&configFlag, "config", "", "config file path (default ./config.toml, overridden by VEIN_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the config and exit")
	fs.BoolVar(&showVer, "version", false, "print version and exit")
	fs.StringVar(&platform, "platform", "", "gem platform, defaults to ruby")
	fs.StringVar(&reason, "reason", "", "reason recorded with approve/block")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("VEIN_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	opts := cliOptions{
		command:     command,
		subcommand:  subcommand,
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		gemPlatform: platform,
		reason:      reason,
	}
	if len(positional) == 2 {
		opts.gemName, opts.gemVersion = positional[0], positional[1]
	}
	return opts, nil
}

func runServe(cfg *config.Config, logger *logrus.Logger) int {
	inv, store, err := openBackends(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "open backends: %v\n", err)
		return exitFailure
	}
	defer inv.Close()

	srv := server.New(cfg, logger, inv, store, sbom.NoGenerator{})
	app, err := server.NewApp(srv)
	if err != nil {
		fmt.Fprintf(stdErr, "build app: %v\n", err)
		return exitFailure
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := upstream.NewYankChecker(upstream.RubyGems(cfg.Upstream))
	scheduler := quarantine.New(inv, checker, logger)
	if err := scheduler.Start(ctx, cfg.Hotcache.RefreshSchedule); err != nil {
		fmt.Fprintf(stdErr, "start quarantine scheduler: %v\n", err)
		return exitFailure
	}

	fields := logging.BaseFields("startup", "")
	fields["listen_addr"] = cfg.ListenAddr()
	fields["database_driver"] = cfg.Database.Driver()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("starting vein")

	if err := app.Listen(cfg.ListenAddr()); err != nil {
		fmt.Fprintf(stdErr, "http server: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// runStats prints the admin summary spec §4.5 calls "surfaced in admin
// stats": how much is cached, and how known gem versions are distributed
// across the quarantine lifecycle.
func runStats(cfg *config.Config, logger *logrus.Logger) int {
	inv, err := open.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(stdErr, "open inventory: %v\n", err)
		return exitFailure
	}
	defer inv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := inv.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "stats: %v\n", err)
		return exitInventoryError
	}

	fmt.Fprintf(stdOut, "cached_assets=%d catalog_gems=%d legacy_rejections=%d\n", stats.CachedAssets, stats.CatalogGems, stats.LegacyRejections)
	for status, count := range stats.GemVersionsByStatus {
		fmt.Fprintf(stdOut, "gem_versions[%s]=%d\n", status, count)
	}
	return exitOK
}

// runCache handles `cache refresh`: an immediate, out-of-cron quarantine
// promotion tick, the nearest equivalent to "refresh the cache state" when
// the cache itself is populated lazily on request rather than pre-warmed.
func runCache(cfg *config.Config, logger *logrus.Logger, opts cliOptions) int {
	if opts.subcommand != "refresh" {
		fmt.Fprintf(stdErr, "unknown cache action: %s\n", opts.subcommand)
		return exitConfigError
	}

	inv, err := open.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(stdErr, "open inventory: %v\n", err)
		return exitFailure
	}
	defer inv.Close()

	checker := upstream.NewYankChecker(upstream.RubyGems(cfg.Upstream))
	scheduler := quarantine.New(inv, checker, logger)
	if err := scheduler.RunOnce(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "cache refresh: %v\n", err)
		return exitInventoryError
	}
	fmt.Fprintln(stdOut, "cache refresh complete")
	return exitOK
}

func runHealth(cfg *config.Config, logger *logrus.Logger) int {
	inv, err := open.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(stdErr, "open inventory: %v\n", err)
		return exitFailure
	}
	defer inv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := inv.Ping(ctx); err != nil {
		fmt.Fprintf(stdErr, "inventory unreachable: %v\n", err)
		return exitInventoryError
	}
	fmt.Fprintln(stdOut, "ok")
	return exitOK
}

func runQuarantine(cfg *config.Config, logger *logrus.Logger, opts cliOptions) int {
	inv, err := open.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(stdErr, "open inventory: %v\n", err)
		return exitFailure
	}
	defer inv.Close()

	admin := quarantine.NewAdmin(inv)
	ctx := context.Background()
	key := inventory.GemVersionKey{Name: opts.gemName, Version: opts.gemVersion, Platform: opts.gemPlatform}

	switch opts.subcommand {
	case "status":
		row, err := admin.Status(ctx, key)
		if err != nil {
			fmt.Fprintf(stdErr, "status: %v\n", err)
			return exitInventoryError
		}
		fmt.Fprintf(stdOut, "%s %s [%s] status=%s available_after=%s upstream_yanked=%t\n",
			row.Key.Name, row.Key.Version, row.Key.Platform, row.Status, row.AvailableAfter.Format(time.RFC3339), row.UpstreamYanked)
		return exitOK
	case "list":
		rows, err := admin.List(ctx, opts.gemName)
		if err != nil {
			fmt.Fprintf(stdErr, "list: %v\n", err)
			return exitInventoryError
		}
		for _, row := range rows {
			fmt.Fprintf(stdOut, "%s %s [%s] status=%s available_after=%s\n",
				row.Key.Name, row.Key.Version, row.Key.Platform, row.Status, row.AvailableAfter.Format(time.RFC3339))
		}
		return exitOK
	case "approve":
		if err := admin.Approve(ctx, key, opts.reason); err != nil {
			fmt.Fprintf(stdErr, "approve: %v\n", err)
			return exitInventoryError
		}
		fmt.Fprintln(stdOut, "approved")
		return exitOK
	case "block":
		if err := admin.Block(ctx, key, opts.reason); err != nil {
			fmt.Fprintf(stdErr, "block: %v\n", err)
			return exitInventoryError
		}
		fmt.Fprintln(stdOut, "blocked")
		return exitOK
	case "promote":
		checker := upstream.NewYankChecker(upstream.RubyGems(cfg.Upstream))
		scheduler := quarantine.New(inv, checker, logger)
		if err := scheduler.RunOnce(ctx); err != nil {
			fmt.Fprintf(stdErr, "promote: %v\n", err)
			return exitInventoryError
		}
		fmt.Fprintln(stdOut, "promotion tick complete")
		return exitOK
	default:
		fmt.Fprintf(stdErr, "unknown quarantine action: %s\n", opts.subcommand)
		return exitConfigError
	}
}

func openBackends(cfg *config.Config) (inventory.Store, *storage.Store, error) {
	inv, err := open.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open inventory: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		inv.Close()
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return inv, store, nil
}

