package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// sspictl runs the command in an empty directory with no SSPI_* overrides.
func sspictl(t *testing.T, stdin string, vars map[string]string, args ...string) result {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "SSPI_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}

	var stdout, stderr bytes.Buffer
	code := run(args, env{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
		getenv: func(name string) string { return vars[name] },
	})
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"frobnicate"}},
		{name: "unknown flag", args: []string{"-nope", "packages"}},
		{name: "info without package", args: []string{"info"}},
		{name: "unknown context flag", args: []string{"handshake", "-flags", "mutual,telepathy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sspictl(t, "", nil, tt.args...)
			assert.Equal(t, 2, r.code)
			assert.Contains(t, r.stderr, "usage: sspictl")
		})
	}
}

func TestRun_Packages(t *testing.T) {
	r := sspictl(t, "", nil, "packages")
	assert.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "NAME")
	assert.Contains(t, r.stdout, "TESTPKG")
	assert.Contains(t, r.stdout, "builtin/loopback")
	assert.Contains(t, r.stdout, "builtin/ntlm")
}

func TestRun_Info(t *testing.T) {
	r := sspictl(t, "", nil, "info", "testpkg")
	assert.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "TESTPKG")
	assert.Contains(t, r.stdout, "4096")
	assert.Contains(t, r.stdout, "narrow, wide")

	r = sspictl(t, "", nil, "info", "DOES-NOT-EXIST")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "security package not found")
}

func TestRun_Handshake(t *testing.T) {
	pw := map[string]string{EnvPassword: "s3cret"}
	tests := []struct {
		name  string
		stdin string
		vars  map[string]string
		args  []string
	}{
		{name: "wide", vars: pw, args: []string{"handshake", "-user", "alice", "-domain", "EXAMPLE"}},
		{name: "narrow initiator", vars: pw, args: []string{"handshake", "-narrow", "-user", "alice", "-domain", "EXAMPLE"}},
		{name: "piped password", stdin: "s3cret\n", args: []string{"handshake", "-user", "alice", "-domain", "EXAMPLE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sspictl(t, tt.stdin, tt.vars, tt.args...)
			assert.Equal(t, 0, r.code, r.stderr)
			assert.Contains(t, r.stdout, "Established after")
			assert.Contains(t, r.stdout, `EXAMPLE\alice`)
			assert.Contains(t, r.stdout, "Signature verified")
			assert.NotContains(t, r.stderr, "s3cret")
		})
	}
}

func TestRun_HandshakeRoundLimit(t *testing.T) {
	r := sspictl(t, "", nil, "handshake", "-max-rounds", "1")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "handshake")
}

func TestRun_Metrics(t *testing.T) {
	r := sspictl(t, "", nil, "-metrics", "info", "TESTPKG")
	assert.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "sspi_provider_loads_total")
}

func TestRun_BadConfig(t *testing.T) {
	r := sspictl(t, "", nil, "-config", "missing.yaml", "packages")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "missing.yaml")

	r = sspictl(t, "", nil, "-log-level", "loud", "packages")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "log.level")
}
