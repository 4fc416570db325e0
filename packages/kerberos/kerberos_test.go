package kerberos

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/negotiate"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM
  dns_lookup_kdc = false

[realms]
  EXAMPLE.COM = {
    kdc = 127.0.0.1:88
  }
`

func wideTable(t *testing.T, m *Module) ssp.WideTable {
	t.Helper()
	n, w, err := m.Tables()
	require.NoError(t, err)
	require.Nil(t, n)
	return w
}

func passwordIdentity() *ssp.AuthIdentity[transcode.Wide] {
	return &ssp.AuthIdentity[transcode.Wide]{
		User:     transcode.WideString("alice"),
		Domain:   transcode.WideString("EXAMPLE.COM"),
		Password: transcode.WideString("s3cret"),
	}
}

// emptyKeytab writes a version 2 keytab with no entries.
func emptyKeytab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.keytab")
	require.NoError(t, os.WriteFile(path, []byte{0x05, 0x02}, 0o600))
	return path
}

func TestQueryPackageInfo(t *testing.T) {
	tbl := wideTable(t, New(Config{}))

	info, status := tbl.QueryPackageInfo(transcode.WideString("kerberos"))
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, "Kerberos", info.Name.String())
	assert.Equal(t, uint32(DefaultMaxToken), info.MaxToken)
	assert.Equal(t, uint16(rpcID), info.RPCID)
	assert.NotZero(t, info.Capabilities&ssp.CapGSSCompatible)

	_, status = tbl.QueryPackageInfo(transcode.WideString("NTLM"))
	assert.Equal(t, ssp.StatusSecpkgNotFound, status)
	_, status = tbl.QueryPackageInfo(transcode.Wide{0xDC00})
	assert.Equal(t, ssp.StatusInvalidParameter, status)
}

func TestAcquireCredentials_Password(t *testing.T) {
	m := New(Config{Krb5Conf: testKrb5Conf})
	tbl := wideTable(t, m)

	cred, expiry, status := tbl.AcquireCredentials(nil, transcode.WideString("Kerberos"), ssp.CredentialOutbound, passwordIdentity())
	require.Equal(t, ssp.StatusOK, status)
	assert.False(t, expiry.IsZero())

	v, status := tbl.QueryCredentialsAttributes(cred, ssp.AttrNames)
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, "alice@EXAMPLE.COM", v.Name.String())

	_, status = tbl.InitializeContext(cred, nil, nil, 0, nil)
	assert.Equal(t, ssp.StatusTargetUnknown, status)

	assert.Equal(t, ssp.StatusOK, tbl.FreeCredentials(cred))
	assert.Equal(t, ssp.StatusInvalidHandle, tbl.FreeCredentials(cred))
}

func TestAcquireCredentials_Failures(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		use    ssp.CredentialUse
		id     *ssp.AuthIdentity[transcode.Wide]
		status ssp.Status
	}{
		{
			name:   "no logon source",
			cfg:    Config{Krb5Conf: testKrb5Conf},
			use:    ssp.CredentialOutbound,
			status: ssp.StatusNoCredentials,
		},
		{
			name:   "missing krb5.conf",
			cfg:    Config{Krb5ConfPath: filepath.Join(t.TempDir(), "missing.conf")},
			use:    ssp.CredentialOutbound,
			id:     passwordIdentity(),
			status: ssp.StatusNoCredentials,
		},
		{
			name:   "inbound without service keytab",
			cfg:    Config{},
			use:    ssp.CredentialInbound,
			status: ssp.StatusNoCredentials,
		},
		{
			name:   "unreadable service keytab",
			cfg:    Config{ServiceKeytab: filepath.Join(t.TempDir(), "missing.keytab")},
			use:    ssp.CredentialInbound,
			status: ssp.StatusNoCredentials,
		},
		{
			name:   "no direction",
			cfg:    Config{},
			use:    0,
			status: ssp.StatusInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.cfg)
			_, _, status := wideTable(t, m).AcquireCredentials(nil, transcode.WideString("Kerberos"), tt.use, tt.id)
			assert.Equal(t, tt.status, status)
			creds, _ := m.Live()
			assert.Zero(t, creds)
		})
	}
}

func TestAcceptContext_RejectsMalformedToken(t *testing.T) {
	m := New(Config{ServiceKeytab: emptyKeytab(t)})
	tbl := wideTable(t, m)

	cred, _, status := tbl.AcquireCredentials(transcode.WideString("HTTP/host.example.com"), transcode.WideString("Kerberos"), ssp.CredentialInbound, nil)
	require.Equal(t, ssp.StatusOK, status)

	_, status = tbl.AcceptContext(cred, nil, nil, 0)
	assert.Equal(t, ssp.StatusInvalidToken, status)
	_, status = tbl.AcceptContext(cred, nil, ssp.TokenBuffers([]byte{0x60, 0x01, 0x00}), 0)
	assert.Equal(t, ssp.StatusInvalidToken, status)

	v, status := tbl.QueryCredentialsAttributes(cred, ssp.AttrNames)
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, "HTTP/host.example.com", v.Name.String())

	_, contexts := m.Live()
	assert.Zero(t, contexts)
}

// TestEngine_NarrowCaller reaches the wide-only module through the narrow
// surface.
func TestEngine_NarrowCaller(t *testing.T) {
	m := New(Config{Krb5Conf: testKrb5Conf})
	reg := registry.New(loader.NewStatic(map[string]ssp.Module{"builtin/kerberos": m}),
		registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := reg.Register(registry.Entry{Name: DefaultName, Module: "builtin/kerberos"})
	require.NoError(t, err)
	api := negotiate.New(reg).Narrow()

	cred, _, err := api.AcquireCredentials(nil, transcode.Narrow("Kerberos"), ssp.CredentialOutbound,
		&ssp.AuthIdentity[transcode.Narrow]{
			User:     transcode.Narrow("alice"),
			Domain:   transcode.Narrow("EXAMPLE.COM"),
			Password: transcode.Narrow("s3cret"),
		})
	require.NoError(t, err)

	v, err := api.QueryCredentialsAttributes(cred, ssp.AttrNames)
	require.NoError(t, err)
	assert.Equal(t, "alice@EXAMPLE.COM", string(v.Name))

	h, r, err := api.InitializeContext(cred, negotiate.ContextHandle{}, nil, 0, nil)
	var se *negotiate.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ssp.StatusTargetUnknown, se.Status)
	assert.True(t, h.IsZero())
	assert.Nil(t, r)

	require.NoError(t, api.FreeCredentials(cred))
}
