// axislogd collects x/y/z sensor readings from MQTT and appends them to a
// CSV log.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/shell"
	"github.com/xtxerr/axislog/internal/storage"
	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/query"
	"github.com/xtxerr/axislog/internal/transport/mqtt"
	"github.com/xtxerr/axislog/internal/validation"
)

// Version is set at build time via ldflags
var Version = "dev"

const usage = `Usage: axislogd [command] [flags]

Commands:
  run        collect readings and write the log (default)
  query      run one shell command or SQL statement and exit
  shell      interactive SQL shell over the log and archive
  check      validate the configuration and print resource estimates
  simulate   publish random readings to the broker
  version    print the version

Run 'axislogd <command> -h' for the flags of a command.
`

func main() {
	err := run(os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "axislogd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return cmdRun(args)
	case "query":
		return cmdQuery(args, out)
	case "shell":
		return cmdShell(args, out)
	case "check":
		return cmdCheck(args, out)
	case "simulate":
		return cmdSimulate(args)
	case "version":
		fmt.Fprintf(out, "axislogd %s\n", Version)
		return nil
	case "help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

// =============================================================================
// Common Flags
// =============================================================================

type commonFlags struct {
	config   string
	out      string
	broker   string
	logLevel string
	json     bool
	readings bool
	channels string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "axislog.yaml", "config file path")
	fs.StringVar(&f.out, "out", "", "CSV log path (overrides config)")
	fs.StringVar(&f.broker, "broker", "", "MQTT broker host:port (overrides config)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	fs.BoolVar(&f.json, "json", false, "log as JSON")
	fs.BoolVar(&f.readings, "readings", false, "log every received reading")
	fs.StringVar(&f.channels, "channels", "", "channel names, e.g. x=acc_x,y=acc_y,z=acc_z")
}

// load reads the config file, falling back to defaults when it does not
// exist, and applies the flag overrides.
func (f *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if f.out != "" {
		cfg.Output.Path = f.out
	}
	if f.broker != "" {
		cfg.MQTT.Broker = f.broker
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.json {
		cfg.Log.JSON = true
	}
	if f.readings {
		cfg.Log.Readings = true
	}
	if f.channels != "" {
		bindings, err := validation.ParseChannelBindings(f.channels)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			switch b.Axis {
			case "x":
				cfg.Ingest.Channels.X = b.Name
			case "y":
				cfg.Ingest.Channels.Y = b.Name
			case "z":
				cfg.Ingest.Channels.Z = b.Name
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Log.JSON)

	return cfg, nil
}

func parse(name string, args []string, common *commonFlags, fs *flag.FlagSet) error {
	common.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: axislogd %s [flags]\n\n", name)
		fs.PrintDefaults()
	}
	return fs.Parse(args)
}

// =============================================================================
// run
// =============================================================================

func cmdRun(args []string) error {
	var common commonFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	embed := fs.Bool("embed-broker", false, "serve an MQTT broker on the broker address")
	statsEvery := fs.Duration("stats-interval", time.Minute, "how often to log statistics, 0 disables")
	if err := parse("run", args, &common, fs); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	logger := logging.Component("main")
	logger.Info("axislogd starting", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Embedded broker
	// =========================================================================

	if *embed {
		broker, err := mqtt.NewBroker(cfg.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("create broker: %w", err)
		}
		if err := broker.Start(); err != nil {
			return fmt.Errorf("start broker: %w", err)
		}
		defer broker.Close()
	}

	// =========================================================================
	// Storage (buffers, flush, log)
	// =========================================================================

	svc, err := storage.New(cfg)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start storage: %w", err)
	}

	// =========================================================================
	// Transport
	// =========================================================================

	opts, err := mqtt.OptionsFromConfig(cfg.MQTT)
	if err != nil {
		_ = svc.Stop()
		return err
	}
	client := mqtt.New(opts)
	if err := client.SubscribeAll(cfg.Ingest.Channels.Array(), svc.Handle); err != nil {
		_ = svc.Stop()
		return fmt.Errorf("subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	if *statsEvery > 0 {
		g.Go(func() error {
			logStats(gctx, *statsEvery, svc, client)
			return nil
		})
	}

	// =========================================================================
	// Shutdown
	// =========================================================================

	runErr := g.Wait()
	logger.Info("shutting down")

	// Stopping the service flushes every buffered reading
	stopErr := svc.Stop()
	if stopErr != nil {
		logger.Error("storage stop failed", "error", stopErr)
	}

	s := svc.Stats()
	logger.Info("axislogd stopped",
		"rows_written", s.Flush.RowsWritten,
		"flushes", s.Flush.Flushes,
		"evicted", s.Ingestion.Evicted,
		"messages", client.Stats().Messages,
	)

	return errors.Join(runErr, stopErr)
}

func logStats(ctx context.Context, every time.Duration, svc *storage.Service, client *mqtt.Client) {
	logger := logging.Component("stats")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := svc.Stats()
			m := client.Stats()
			logger.Info("statistics",
				"connected", m.Connected,
				"messages", m.Messages,
				"decode_errors", m.DecodeErrors,
				"applied", s.Ingestion.Applied,
				"dropped", s.Ingestion.Dropped,
				"evicted", s.Ingestion.Evicted,
				"rows_written", s.Flush.RowsWritten,
				"flush_failures", s.Flush.Failures,
				"pressure", svc.PressureLevel().String(),
			)
		}
	}
}

// =============================================================================
// query / shell
// =============================================================================

func openQuery(cfg *config.Config) (*query.Service, error) {
	return query.New(query.Options{
		LogPath:     cfg.Output.Path,
		ArchiveDir:  cfg.Output.ParquetDir,
		MemoryLimit: cfg.Query.MemoryLimit,
		Timeout:     cfg.Query.Timeout,
		MaxRows:     cfg.Query.MaxRows,
	})
}

func cmdQuery(args []string, out io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	if err := parse("query", args, &common, fs); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	qs, err := openQuery(cfg)
	if err != nil {
		return err
	}
	defer qs.Close()

	line := strings.Join(fs.Args(), " ")
	if line == "" {
		line = `\summary`
	}
	shell.New(qs, out).Execute(line)
	return nil
}

func cmdShell(args []string, out io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	if err := parse("shell", args, &common, fs); err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("shell needs a terminal, use 'axislogd query' instead")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	qs, err := openQuery(cfg)
	if err != nil {
		return err
	}
	defer qs.Close()

	shell.New(qs, out).Run()
	return nil
}

// =============================================================================
// check
// =============================================================================

func cmdCheck(args []string, out io.Writer) error {
	var common commonFlags
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	rate := fs.Float64("rate", 1, "expected samples per second")
	if err := parse("check", args, &common, fs); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Configuration OK (log=%s, wal=%t, archive=%q)\n\n",
		cfg.Output.Path, cfg.WAL.Enabled, cfg.Output.ParquetDir)

	req := cfg.CalculateRequirements(*rate)
	fmt.Fprint(out, req.FormatRequirements())
	return nil
}

// =============================================================================
// simulate
// =============================================================================

func cmdSimulate(args []string) error {
	var common commonFlags
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	every := fs.Duration("interval", time.Second, "time between samples")
	count := fs.Int("count", 0, "number of samples, 0 runs until interrupted")
	if err := parse("simulate", args, &common, fs); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}

	opts, err := mqtt.OptionsFromConfig(cfg.MQTT)
	if err != nil {
		return err
	}
	opts.ClientID = ""
	client := mqtt.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		return client.Run(runCtx)
	})
	g.Go(func() error {
		defer cancel()
		if err := client.WaitConnected(runCtx); err != nil {
			return nil
		}
		return simulate(runCtx, client, cfg.Ingest.Channels.Array(), *every, *count)
	})
	return g.Wait()
}

// simulate publishes one random reading per channel every interval.
func simulate(ctx context.Context, client *mqtt.Client, names [3]string, every time.Duration, count int) error {
	logger := logging.Component("simulate")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for n := 0; count == 0 || n < count; n++ {
		for _, name := range names {
			v := rand.Float64()*2 - 1
			if err := client.Publish(ctx, name, v); err != nil {
				logger.Warn("publish failed", "channel", name, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	logger.Info("simulation done", "samples", count)
	return nil
}
