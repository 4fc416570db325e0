package config

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/loader/dl"
	"github.com/smnsjas/go-sspi/packages/kerberos"
	"github.com/smnsjas/go-sspi/packages/loopback"
	"github.com/smnsjas/go-sspi/packages/ntlm"
	"github.com/smnsjas/go-sspi/packages/secur32"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
)

// Module paths of the in-process packages.
const (
	LoopbackModule = "builtin/loopback"
	NTLMModule     = "builtin/ntlm"
	KerberosModule = "builtin/kerberos"
)

// Builtin is an in-process package.
type Builtin struct {
	Name   string
	Path   string
	Module ssp.Module
}

// Builtins returns the in-process packages configured by c. On Windows the
// system Negotiate package is included. The modules are built on first use
// and shared by Packages and Loader afterwards, so their settings must be
// final by then.
func (c *Config) Builtins() []Builtin {
	if c.DisableBuiltins {
		return nil
	}
	if c.builtins == nil {
		c.builtins = c.newBuiltins()
	}
	return c.builtins
}

func (c *Config) newBuiltins() []Builtin {
	out := []Builtin{
		{Name: loopback.DefaultName, Path: LoopbackModule, Module: loopback.New(loopback.Config{})},
		{Name: ntlm.DefaultName, Path: NTLMModule, Module: ntlm.New(ntlm.Config{
			Workstation: c.NTLM.Workstation,
		})},
		{Name: kerberos.DefaultName, Path: KerberosModule, Module: kerberos.New(kerberos.Config{
			Realm:         c.Kerberos.Realm,
			Krb5ConfPath:  c.Kerberos.Krb5Conf,
			KeytabPath:    c.Kerberos.Keytab,
			CCachePath:    c.Kerberos.CCache,
			ServiceKeytab: c.Kerberos.ServiceKeytab,
		})},
	}
	if runtime.GOOS == "windows" {
		out = append(out, Builtin{Name: "Negotiate", Path: secur32.ModulePath, Module: secur32.New()})
	}
	return out
}

// Packages implements registry.Enumerator: the built-in packages followed
// by the configured ones.
func (c *Config) Packages() ([]registry.Entry, error) {
	override := make(map[string]bool, len(c.Entries))
	for _, e := range c.Entries {
		override[strings.ToLower(e.Name)] = true
	}

	var out []registry.Entry
	for _, b := range c.Builtins() {
		if override[strings.ToLower(b.Name)] {
			continue
		}
		e, err := registry.Describe(b.Name, b.Path, b.Module)
		if err != nil {
			return nil, fmt.Errorf("describe built-in package %s: %w", b.Name, err)
		}
		out = append(out, e)
	}
	return append(out, c.Entries...), nil
}

// Loader serves the built-in modules and falls back to shared libraries
// found on c.ModulePath and the default search directories.
func (c *Config) Loader(logger *slog.Logger) registry.Loader {
	builtins := make(map[string]ssp.Module)
	for _, b := range c.Builtins() {
		builtins[b.Path] = b.Module
	}
	opts := []dl.Option{dl.WithSearchPaths(append(append([]string(nil), c.ModulePath...), dl.DefaultSearchPaths()...)...)}
	if logger != nil {
		opts = append(opts, dl.WithLogger(logger))
	}
	return loader.Chain{loader.NewStatic(builtins), dl.New(opts...)}
}
