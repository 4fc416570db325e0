// Package config holds the runtime configuration shared by the command line
// tools: the narrow encoding, registry and handshake limits, logging, the
// built-in packages' settings and any extra packages backed by shared
// libraries.
//
// Configuration is layered: Defaults, then a YAML or TOML file, then SSPI_*
// environment variables, then Validate.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smnsjas/go-sspi/internal/log"
	"github.com/smnsjas/go-sspi/negotiate"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/transcode"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete configuration.
type Config struct {
	// Encoding names the narrow charset (IANA or WHATWG label).
	Encoding string `yaml:"encoding" toml:"encoding"`

	// FailureTTL caches provider load failures. Zero retries every lookup.
	FailureTTL Duration `yaml:"failure_ttl" toml:"failure_ttl"`

	// MaxRounds bounds in-process handshakes.
	MaxRounds int `yaml:"max_rounds" toml:"max_rounds"`

	// DisableBuiltins leaves the in-process packages unregistered.
	DisableBuiltins bool `yaml:"disable_builtins" toml:"disable_builtins"`

	// ModulePath is searched for shared-library modules before the
	// loader's default directories.
	ModulePath []string `yaml:"module_path" toml:"module_path"`

	Log      LogConfig      `yaml:"log" toml:"log"`
	NTLM     NTLMConfig     `yaml:"ntlm" toml:"ntlm"`
	Kerberos KerberosConfig `yaml:"kerberos" toml:"kerberos"`

	// Entries are extra packages. An entry named like a built-in package
	// replaces it.
	Entries []registry.Entry `yaml:"packages" toml:"packages"`

	builtins []Builtin
}

// LogConfig selects the log sink.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSize    int64  `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// NTLMConfig configures the built-in NTLM package.
type NTLMConfig struct {
	Workstation string `yaml:"workstation" toml:"workstation"`
}

// KerberosConfig configures the built-in Kerberos package.
type KerberosConfig struct {
	Realm         string `yaml:"realm" toml:"realm"`
	Krb5Conf      string `yaml:"krb5_conf" toml:"krb5_conf"`
	Keytab        string `yaml:"keytab" toml:"keytab"`
	CCache        string `yaml:"ccache" toml:"ccache"`
	ServiceKeytab string `yaml:"service_keytab" toml:"service_keytab"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Encoding:   "utf-8",
		FailureTTL: Duration(30 * time.Second),
		MaxRounds:  negotiate.DefaultMaxRounds,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10 << 20,
			MaxBackups: 3,
		},
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := transcode.NewCodec(c.Encoding); err != nil {
		bad("encoding: %v", err)
	}
	if c.FailureTTL < 0 {
		bad("failure_ttl must not be negative")
	}
	if c.MaxRounds < 1 {
		bad("max_rounds must be at least 1, got %d", c.MaxRounds)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		bad("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 {
		bad("log.max_size and log.max_backups must not be negative")
	}

	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		switch {
		case strings.TrimSpace(e.Name) == "":
			bad("packages[%d]: name is required", i)
			continue
		case strings.TrimSpace(e.Module) == "":
			bad("packages[%d] (%s): module is required", i, e.Name)
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			bad("packages[%d]: duplicate package %q", i, e.Name)
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}

// Codec returns the narrow codec.
func (c *Config) Codec() (*transcode.Codec, error) {
	return transcode.NewCodec(c.Encoding)
}

// LogOptions converts the log section.
func (c *Config) LogOptions() (log.Options, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.Options{}, err
	}
	return log.Options{
		Level:      level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
	}, nil
}

// HandshakeOptions returns the handshake limits.
func (c *Config) HandshakeOptions() negotiate.HandshakeOptions {
	return negotiate.HandshakeOptions{MaxRounds: c.MaxRounds}
}

// RegistryOptions returns the registry options implied by c.
func (c *Config) RegistryOptions(logger *slog.Logger) ([]registry.Option, error) {
	codec, err := c.Codec()
	if err != nil {
		return nil, err
	}
	opts := []registry.Option{
		registry.WithCodec(codec),
		registry.WithFailureTTL(time.Duration(c.FailureTTL)),
	}
	if logger != nil {
		opts = append(opts, registry.WithLogger(logger))
	}
	return opts, nil
}

// Registry builds a registry over c.Loader and populates it from c.
func (c *Config) Registry(logger *slog.Logger) (*registry.Registry, error) {
	opts, err := c.RegistryOptions(logger)
	if err != nil {
		return nil, err
	}
	reg := registry.New(c.Loader(logger), opts...)
	if err := reg.Populate(c); err != nil {
		return nil, err
	}
	return reg, nil
}
