package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the config file when Load is given no path.
const EnvConfig = "SSPI_CONFIG"

// searchFiles are tried in order when neither a path nor $SSPI_CONFIG is set.
var searchFiles = []string{
	"sspi.yaml",
	"sspi.yml",
	"sspi.toml",
	"/etc/sspi/sspi.yaml",
	"/etc/sspi/sspi.toml",
}

// Load builds the configuration:
//  1. Defaults
//  2. the config file: path, else $SSPI_CONFIG, else the first of
//     ./sspi.yaml, ./sspi.yml, ./sspi.toml, /etc/sspi/sspi.{yaml,toml}
//  3. SSPI_* environment variables
//  4. Validate
//
// An explicitly named file must exist; a missing discovered file is skipped.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if file := discover(path); file != "" {
		if err := cfg.readFile(file); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", file, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func discover(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	for _, p := range searchFiles {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// readFile decodes a YAML or TOML file, chosen by extension, over c.
// Unknown keys are errors.
func (c *Config) readFile(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		meta, err := toml.DecodeFile(path, c)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
}

// applyEnv overrides fields from SSPI_* variables. Malformed values are
// errors rather than silently ignored.
func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	str("SSPI_ENCODING", &c.Encoding)
	str("SSPI_LOG_LEVEL", &c.Log.Level)
	str("SSPI_LOG_FORMAT", &c.Log.Format)
	str("SSPI_LOG_FILE", &c.Log.File)
	str("SSPI_NTLM_WORKSTATION", &c.NTLM.Workstation)
	str("SSPI_KRB5_REALM", &c.Kerberos.Realm)
	str("SSPI_KRB5_CONF", &c.Kerberos.Krb5Conf)
	str("SSPI_KRB5_KEYTAB", &c.Kerberos.Keytab)
	str("SSPI_KRB5_CCACHE", &c.Kerberos.CCache)
	str("SSPI_KRB5_SERVICE_KEYTAB", &c.Kerberos.ServiceKeytab)

	if v, ok := os.LookupEnv("SSPI_FAILURE_TTL"); ok {
		if err := c.FailureTTL.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("SSPI_FAILURE_TTL: %w", err))
		}
	}
	if v, ok := os.LookupEnv("SSPI_MAX_ROUNDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("SSPI_MAX_ROUNDS: %w", err))
		} else {
			c.MaxRounds = n
		}
	}
	if v, ok := os.LookupEnv("SSPI_DISABLE_BUILTINS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("SSPI_DISABLE_BUILTINS: %w", err))
		} else {
			c.DisableBuiltins = b
		}
	}
	return errors.Join(errs...)
}
