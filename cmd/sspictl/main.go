// Command sspictl lists, inspects and exercises the configured security
// packages.
//
// Password for -user can be provided via:
//   - SSPI_PASSWORD environment variable (recommended)
//   - stdin prompt (if the variable is not set)
//
// Usage:
//
//	sspictl [-config file] [-log-level level] [-metrics] <command> [flags]
//
// Commands:
//
//	packages                     list registered packages
//	info <package>               load a package and print its package info
//	handshake [flags]            negotiate a context pair in-process
//
// Examples:
//
//	# Loopback handshake against the built-in reference package
//	sspictl handshake -package TESTPKG -target host/example.com
//
//	# NTLM initiator against a package served by libsspi
//	export SSPI_PASSWORD='secret'
//	sspictl -config sspi.yaml handshake -package NTLM -acceptor Negotiate -user alice -domain CORP
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/smnsjas/go-sspi/config"
	sspilog "github.com/smnsjas/go-sspi/internal/log"
	"github.com/smnsjas/go-sspi/negotiate"
	"github.com/smnsjas/go-sspi/registry"
)

// errUsage marks command line mistakes; they exit with status 2.
var errUsage = errors.New("usage")

// env bundles the process surroundings so run can be driven by tests.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

// session is what every command works against.
type session struct {
	env
	cfg    *config.Config
	logger *slog.Logger
	reg    *registry.Registry
}

func main() {
	os.Exit(run(os.Args[1:], env{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
	}))
}

func run(args []string, e env) int {
	fs := flag.NewFlagSet("sspictl", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", "", "Config file (.yaml, .yml or .toml; default: $SSPI_CONFIG or ./sspi.yaml)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	dumpMetrics := fs.Bool("metrics", false, "Print Prometheus metrics after the command")
	fs.Usage = func() {
		fmt.Fprintln(e.stderr, "usage: sspictl [flags] packages | info <package> | handshake [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	s, closer, err := open(*configPath, *logLevel, e)
	if err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "packages":
		err = s.packages(rest)
	case "info":
		err = s.info(rest)
	case "handshake":
		err = s.handshake(rest)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if *dumpMetrics {
		if merr := writeMetrics(e.stdout, prometheus.DefaultGatherer); merr != nil {
			err = errors.Join(err, merr)
		}
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errUsage):
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		fs.Usage()
		return 2
	default:
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
}

// open loads the configuration and builds the logger and registry.
func open(path, level string, e env) (*session, io.Closer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level != "" {
		cfg.Log.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	opts, err := cfg.LogOptions()
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := sspilog.Open(opts, e.stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}

	reg, err := cfg.Registry(logger)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("build registry: %w", err)
	}
	return &session{env: e, cfg: cfg, logger: logger, reg: reg}, closer, nil
}

// engine returns a negotiation engine over the session registry that also
// emits security events.
func (s *session) engine() *negotiate.Engine {
	return negotiate.New(s.reg,
		negotiate.WithLogger(s.logger),
		negotiate.WithSecurityEvents(s.logger),
	)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
