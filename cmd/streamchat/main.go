package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codefionn/streamchat/internal/chat"
	"github.com/codefionn/streamchat/internal/config"
	"github.com/codefionn/streamchat/internal/logger"
	"github.com/codefionn/streamchat/internal/pprof"
	"github.com/codefionn/streamchat/internal/tui"
	"golang.org/x/term"
)

const shutdownTimeout = 5 * time.Second

type cliOptions struct {
	configPath string
	endpoint   string
	model      string
	logLevel   string
	timeout    time.Duration
	prompt     string
	profiling  pprof.Config
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, err := parseCLIArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.prompt == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
		data, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", readErr)
		}
		opts.prompt = strings.TrimSpace(string(data))
	}

	cfg, err := loadConfig(opts, os.Getenv)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file %s: %v\n", cfg.LogPath, err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("Starting streamchat (endpoint %s, model %s)", cfg.Endpoint, cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := chat.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// A second signal during shutdown terminates the process.
		stop()
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := orch.Close(closeCtx); closeErr != nil {
			logger.Warn("Shutdown incomplete: %v", closeErr)
		}
	}()

	if opts.profiling.Enabled() {
		opts.profiling.Health = orch.Health
		profiler := pprof.NewHandler(opts.profiling)
		if err := profiler.Start(); err != nil {
			return err
		}
		defer func() {
			if stopErr := profiler.Stop(); stopErr != nil {
				logger.Warn("Failed to stop profiling: %v", stopErr)
			}
		}()
	}

	if opts.prompt != "" {
		return runOneShot(ctx, orch, opts.prompt, os.Stdout, opts.timeout)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("interactive mode requires a terminal; pass a prompt to run once")
	}
	return tui.Run(ctx, orch)
}

func parseCLIArgs(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("streamchat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &cliOptions{}
	var showHelp bool

	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	fs.StringVar(&opts.endpoint, "url", "", "WebSocket endpoint (overrides config and "+config.EnvEndpoint+")")
	fs.StringVar(&opts.model, "model", "", "Model to use (gpt-4o, gpt-4o-mini, o3-mini)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Give up on a one-shot prompt after this long")
	fs.StringVar(&opts.profiling.HTTPAddr, "debug-addr", "", "Serve /debug/pprof and /debug/health on this address")
	fs.StringVar(&opts.profiling.CPUProfile, "cpuprofile", "", "Write a CPU profile to this file")
	fs.StringVar(&opts.profiling.HeapProfile, "memprofile", "", "Write a heap profile to this file on exit")
	fs.BoolVar(&showHelp, "help", false, "Show CLI usage information")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options] [\"your prompt here\"]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Without a prompt an interactive terminal UI starts.")
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if opts.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	opts.prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))
	return opts, nil
}

// loadConfig layers file, environment and flags, in that order
func loadConfig(opts *cliOptions, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(getenv)

	if opts.endpoint != "" {
		cfg.Endpoint = opts.endpoint
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
