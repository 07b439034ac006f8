// authd is a credential verification service backed by PostgreSQL.
//
// It serves POST /login, checking an identifier and secret against a
// credentials table through a bounded connection pool, and issues a session
// token on success.
//
// Usage:
//
//	authd [flags]
//	authd hash [secret]
//	authd schema [-apply]
//	authd config [-write path]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "authd.toml")
//	-env string
//	    Path to a .env file with PG_* overrides (default ".env")
//	-listen string
//	    HTTP listen address (overrides config and AUTHD_LISTEN)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DiegoLinaresM/test-auto/lib/auth"
	"github.com/DiegoLinaresM/test-auto/lib/core"
	"github.com/DiegoLinaresM/test-auto/lib/store"
	"github.com/DiegoLinaresM/test-auto/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are the global flags shared by all subcommands.
type options struct {
	configPath  string
	envPath     string
	listen      string
	verbose     bool
	showVersion bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", "authd.toml", "Path to configuration file")
	fs.StringVar(&opts.envPath, "env", ".env", "Path to a .env file with PG_* overrides")
	fs.StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config)")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "authd - credential verification service\n\n")
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  authd [flags]                 Start the service\n")
		fmt.Fprintf(stderr, "  authd hash [secret]           Print a bcrypt hash for a credential row\n")
		fmt.Fprintf(stderr, "  authd schema [-apply]         Print or apply the credentials table DDL\n")
		fmt.Fprintf(stderr, "  authd config [-write path]    Print or write the effective configuration\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "authd version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "hash" {
		cfg, err := loadConfig(opts)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			return 1
		}
		return handleHash(rest[1:], cfg, stdin, stdout, stderr)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	if len(rest) > 0 {
		switch rest[0] {
		case "schema":
			return handleSchema(rest[1:], cfg, logger, stdout, stderr)
		case "config":
			return handleConfig(rest[1:], cfg, stdout, stderr)
		default:
			fmt.Fprintf(stderr, "Unknown command: %s\n\n", rest[0])
			fs.Usage()
			return 2
		}
	}

	return serve(cfg, logger)
}

// loadConfig layers the config file, the environment and flags, in that
// order.
func loadConfig(opts options) (*core.Config, error) {
	cfg, err := core.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := core.LoadEnvFile(opts.envPath); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	return cfg, nil
}

func serve(cfg *core.Config, logger *slog.Logger) int {
	svc, err := core.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		return 1
	}
	svc.SetOnError(func(err error, message string) {
		logger.Warn(message, "error", err)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout.D()+5*time.Second)
	defer startCancel()
	if err := svc.Start(startCtx); err != nil {
		logger.Error("failed to start service", "error", err)
		return 1
	}

	logger.Info("authd started", "addr", svc.Addr(), "version", version.Full())

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-svc.Done():
		logger.Info("service stopped unexpectedly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.D())
	defer shutdownCancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	logger.Info("authd stopped")
	return 0
}

// handleHash prints the bcrypt hash of a secret. The secret is read from
// stdin when not given as an argument, keeping it out of shell history.
func handleHash(args []string, cfg *core.Config, stdin io.Reader, stdout, stderr io.Writer) int {
	var secret string
	switch len(args) {
	case 0:
		sc := bufio.NewScanner(stdin)
		if !sc.Scan() {
			fmt.Fprintln(stderr, "Error: no secret on stdin")
			return 1
		}
		secret = strings.TrimRight(sc.Text(), "\r")
	case 1:
		secret = args[0]
	default:
		fmt.Fprintln(stderr, "Usage: authd hash [secret]")
		return 2
	}

	if secret == "" {
		fmt.Fprintln(stderr, "Error: secret must not be empty")
		return 1
	}

	hash, err := auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}.Hash(secret)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash)
	return 0
}

// handleSchema prints the credentials DDL, or applies it with -apply.
func handleSchema(args []string, cfg *core.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apply := fs.Bool("apply", false, "Apply the schema to the configured database")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !*apply {
		fmt.Fprint(stdout, store.Schema)
		return 0
	}

	ep := cfg.Endpoint()
	ctx, cancel := context.WithTimeout(context.Background(), ep.ConnectTimeout+30*time.Second)
	defer cancel()

	conn, err := store.Connect(ctx, ep)
	if err != nil {
		logger.Error("failed to connect", "store", ep.Redacted(), "error", err)
		return 1
	}
	defer conn.Close()

	if err := conn.ApplySchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		return 1
	}
	logger.Info("schema applied", "store", ep.Redacted())
	return 0
}

// handleConfig prints the effective configuration as TOML, or writes it.
// Printed output has passwords masked. A written file keeps them, so it is
// created or narrowed to mode 0600.
func handleConfig(args []string, cfg *core.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	write := fs.String("write", "", "Write the configuration to this path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *write != "" {
		if err := core.SaveConfig(cfg, *write); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", *write)
		return 0
	}

	if err := core.WriteConfig(cfg.Redacted(), stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
