package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/server"
	"github.com/toolgate/toolgate/pkg/tools"
)

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath string
	host       string
	port       int
	logLevel   string
	logFormat  string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway in the foreground. A bootstrap admin key is created
and printed once on startup; it is not recoverable afterwards.`,
	Example: `  # Defaults (port 8880)
  toolgate serve

  # With a config file and JSON logs
  toolgate serve --config toolgate.yaml --log-format json`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML)")
	serveCmd.Flags().StringVar(&f.host, "host", "", "Bind address (overrides config)")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	f := &serveFlagVals

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %s: %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("invalid configuration")
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.Logging.Level))
	log := logging.New(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: os.Stderr,
	})

	srv := server.New(cfg, builtinExecutor(),
		server.WithLogger(log),
		server.WithLogLevel(level),
		server.WithVersion(Version),
	)
	registerBuiltinTools(srv.Registry())

	adminKey := srv.Bootstrap()
	fmt.Printf("bootstrap admin key (shown once): %s\n", adminKey)

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("gateway started", "host", cfg.Server.Host, "port", cfg.Server.Port, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// builtinExecutor runs the tools the gateway ships with. Deployments
// bridging real tool servers replace this with their own executor.
func builtinExecutor() tools.Executor {
	return tools.ExecutorFunc(func(ctx context.Context, name string, args map[string]any) (any, error) {
		switch name {
		case "echo":
			return args, nil
		case "time":
			return map[string]any{"now": time.Now().UTC().Format(time.RFC3339)}, nil
		default:
			return nil, fmt.Errorf("no executor for tool %q", name)
		}
	})
}

func registerBuiltinTools(reg *tools.Registry) {
	reg.Register("echo", "Echo the provided arguments back", "builtin")
	reg.Register("time", "Report the current server time", "builtin")
}
