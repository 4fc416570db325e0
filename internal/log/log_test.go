package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelWarn, &buf)
	logger.Info("hidden")
	logger.Warn("provider load failed", "password", "pw")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "provider load failed")
	assert.NotContains(t, out, "pw\n")
}

func TestOpen_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Open(Options{Level: slog.LevelDebug, Format: "JSON"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("credentials acquired", "package", "NTLM", "secret", "x")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "NTLM", rec["package"])
	assert.Equal(t, Redacted, rec["secret"])
}

func TestOpen_UnknownFormat(t *testing.T) {
	_, _, err := Open(Options{Format: "xml"}, nil)
	assert.ErrorContains(t, err, "xml")
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sspictl.log")
	logger, closer, err := Open(Options{File: path}, nil)
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	fi, err := os.Stat(path)
	require.NoError(t, err)
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rf, err := NewRotatingFile(path, 10, 2)
	require.NoError(t, err)

	for _, line := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		n, err := rf.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return strings.TrimSpace(string(data))
	}
	assert.Equal(t, "dddddddd", read(path))
	assert.Equal(t, "cccccccc", read(path+".1"))
	assert.Equal(t, "bbbbbbbb", read(path+".2"))
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))

	_, err = rf.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFile_NoLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rf, err := NewRotatingFile(path, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := rf.Write([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.NoError(t, rf.Close())
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}
