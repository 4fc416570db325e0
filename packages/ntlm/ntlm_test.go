package ntlm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/negotiate"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// challenge builds a minimal CHALLENGE message with a Unicode target name
// and no target info.
func challenge(target string) []byte {
	var name []byte
	for _, u := range utf16.Encode([]rune(target)) {
		name = binary.LittleEndian.AppendUint16(name, u)
	}
	const headerLen = 48
	b := make([]byte, headerLen, headerLen+len(name))
	copy(b, "NTLMSSP\x00")
	binary.LittleEndian.PutUint32(b[8:], 2)
	binary.LittleEndian.PutUint16(b[12:], uint16(len(name)))
	binary.LittleEndian.PutUint16(b[14:], uint16(len(name)))
	binary.LittleEndian.PutUint32(b[16:], headerLen)
	binary.LittleEndian.PutUint32(b[20:], 0x00000001|0x00000200) // UNICODE | NTLM
	copy(b[24:32], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	return append(b, name...)
}

// challengeWithTargetInfo adds a target info block naming the domain, so
// the AUTHENTICATE message carries an NTLMv2 blob with AV pairs.
func challengeWithTargetInfo(domain string) []byte {
	var name []byte
	for _, u := range utf16.Encode([]rune(domain)) {
		name = binary.LittleEndian.AppendUint16(name, u)
	}
	var info []byte
	info = binary.LittleEndian.AppendUint16(info, 2) // MsvAvNbDomainName
	info = binary.LittleEndian.AppendUint16(info, uint16(len(name)))
	info = append(info, name...)
	info = binary.LittleEndian.AppendUint32(info, 0) // MsvAvEOL

	const headerLen = 48
	b := make([]byte, headerLen, headerLen+len(name)+len(info))
	copy(b, "NTLMSSP\x00")
	binary.LittleEndian.PutUint32(b[8:], 2)
	binary.LittleEndian.PutUint16(b[12:], uint16(len(name)))
	binary.LittleEndian.PutUint16(b[14:], uint16(len(name)))
	binary.LittleEndian.PutUint32(b[16:], headerLen)
	binary.LittleEndian.PutUint32(b[20:], 0x00000001|0x00000200|0x00080000|0x00800000) // UNICODE | NTLM | ESS | TARGET_INFO
	copy(b[24:32], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	binary.LittleEndian.PutUint16(b[40:], uint16(len(info)))
	binary.LittleEndian.PutUint16(b[42:], uint16(len(info)))
	binary.LittleEndian.PutUint32(b[44:], uint32(headerLen+len(name)))
	b = append(b, name...)
	return append(b, info...)
}

// avPair returns the value of AV pair id in the NTLMv2 response of an
// AUTHENTICATE message, or nil.
func avPair(t *testing.T, auth []byte, id uint16) []byte {
	t.Helper()
	require.GreaterOrEqual(t, len(auth), 28)
	n := int(binary.LittleEndian.Uint16(auth[20:]))
	off := int(binary.LittleEndian.Uint32(auth[24:]))
	require.LessOrEqual(t, off+n, len(auth))
	resp := auth[off : off+n]

	// NTProofStr (16) then the blob header (28) precede the pairs.
	const pairsAt = 16 + 28
	if len(resp) < pairsAt {
		return nil
	}
	for p := resp[pairsAt:]; len(p) >= 4; {
		pid := binary.LittleEndian.Uint16(p)
		plen := int(binary.LittleEndian.Uint16(p[2:]))
		if pid == 0 || len(p) < 4+plen {
			return nil
		}
		if pid == id {
			return p[4 : 4+plen]
		}
		p = p[4+plen:]
	}
	return nil
}

func selfSigned(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: "host.example.com"},
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// bindingsHash is the MsvAvChannelBindings value for a tls-server-end-point
// binding: MD5 over the gss_channel_bindings_struct with empty addresses.
func bindingsHash(cert *x509.Certificate) []byte {
	sum := sha256.Sum256(cert.Raw)
	app := append([]byte("tls-server-end-point:"), sum[:]...)
	b := make([]byte, 20, 20+len(app))
	binary.LittleEndian.PutUint32(b[16:], uint32(len(app)))
	h := md5.Sum(append(b, app...))
	return h[:]
}

func messageType(t *testing.T, token []byte) uint32 {
	t.Helper()
	require.GreaterOrEqual(t, len(token), 12)
	require.Equal(t, "NTLMSSP\x00", string(token[:8]))
	return binary.LittleEndian.Uint32(token[8:12])
}

func narrowTable(t *testing.T, m *Module) ssp.NarrowTable {
	t.Helper()
	n, w, err := m.Tables()
	require.NoError(t, err)
	require.Nil(t, w)
	return n
}

func identity(user, domain, password string) *ssp.AuthIdentity[transcode.Narrow] {
	return &ssp.AuthIdentity[transcode.Narrow]{
		User:     narrow(user),
		Domain:   narrow(domain),
		Password: narrow(password),
	}
}

func TestInitializeContext_TwoLegs(t *testing.T) {
	m := New(Config{Workstation: "WS01"})
	tbl := narrowTable(t, m)

	cred, _, status := tbl.AcquireCredentials(nil, narrow("ntlm"), ssp.CredentialOutbound, identity("alice", "EXAMPLE", "s3cret"))
	require.Equal(t, ssp.StatusOK, status)

	res, status := tbl.InitializeContext(cred, nil, narrow("HTTP/host"), ssp.FlagConnection|ssp.FlagDelegate, nil)
	require.Equal(t, ssp.StatusContinueNeeded, status)
	assert.Equal(t, uint32(1), messageType(t, res.Output.Token()))
	assert.True(t, res.Output[0].Allocated)
	assert.Equal(t, ssp.FlagConnection, res.Flags)

	h := res.Handle
	_, status = tbl.QueryContextAttributes(h, ssp.AttrNames)
	assert.Equal(t, ssp.StatusInvalidHandle, status)

	res, status = tbl.InitializeContext(cred, &h, nil, 0, ssp.TokenBuffers(challenge("EXAMPLE")))
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, uint32(3), messageType(t, res.Output.Token()))
	assert.Equal(t, ssp.StatusOK, tbl.FreeBuffer(res.Output[0].Data))

	v, status := tbl.QueryContextAttributes(h, ssp.AttrNames)
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, `EXAMPLE\alice`, string(v.Name))

	v, status = tbl.QueryContextAttributes(h, ssp.AttrNegotiationInfo)
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, ssp.NegotiationComplete, v.NegotiationState)
	require.NotNil(t, v.Package)
	assert.Equal(t, "NTLM", string(v.Package.Name))

	_, status = tbl.InitializeContext(cred, &h, nil, 0, ssp.TokenBuffers(challenge("EXAMPLE")))
	assert.Equal(t, ssp.StatusOutOfSequence, status)

	assert.Equal(t, ssp.StatusOK, tbl.DeleteContext(h))
	assert.Equal(t, ssp.StatusInvalidHandle, tbl.DeleteContext(h))
	assert.Equal(t, ssp.StatusOK, tbl.FreeCredentials(cred))

	creds, contexts := m.Live()
	assert.Zero(t, creds)
	assert.Zero(t, contexts)
}

func TestInitializeContext_ChannelBindings(t *testing.T) {
	cert := selfSigned(t)
	want := bindingsHash(cert)

	authenticate := func(t *testing.T, first, second ssp.BufferSet) []byte {
		t.Helper()
		tbl := narrowTable(t, New(Config{}))
		cred, _, status := tbl.AcquireCredentials(nil, narrow("NTLM"), ssp.CredentialOutbound, identity("alice", "EXAMPLE", "s3cret"))
		require.Equal(t, ssp.StatusOK, status)

		res, status := tbl.InitializeContext(cred, nil, narrow("HTTP/host"), 0, first)
		require.Equal(t, ssp.StatusContinueNeeded, status)
		assert.Equal(t, uint32(1), messageType(t, res.Output.Token()))
		h := res.Handle

		res, status = tbl.InitializeContext(cred, &h, nil, 0, append(ssp.TokenBuffers(challengeWithTargetInfo("EXAMPLE")), second...))
		require.Equal(t, ssp.StatusOK, status)
		auth := res.Output.Token()
		assert.Equal(t, uint32(3), messageType(t, auth))
		return auth
	}

	bindings := ssp.BufferSet{ChannelBindings(cert)}

	t.Run("first round", func(t *testing.T) {
		auth := authenticate(t, bindings, nil)
		assert.Equal(t, want, avPair(t, auth, 0x000A))
	})
	t.Run("challenge round", func(t *testing.T) {
		auth := authenticate(t, nil, bindings)
		assert.Equal(t, want, avPair(t, auth, 0x000A))
	})
	t.Run("unbound", func(t *testing.T) {
		auth := authenticate(t, nil, nil)
		assert.NotEqual(t, want, avPair(t, auth, 0x000A))
	})
	t.Run("not a certificate", func(t *testing.T) {
		tbl := narrowTable(t, New(Config{}))
		cred, _, status := tbl.AcquireCredentials(nil, narrow("NTLM"), ssp.CredentialOutbound, identity("alice", "EXAMPLE", "s3cret"))
		require.Equal(t, ssp.StatusOK, status)
		_, status = tbl.InitializeContext(cred, nil, nil, 0,
			ssp.BufferSet{{Kind: ssp.BufferChannelBindings, Data: []byte("garbage")}})
		assert.Equal(t, ssp.StatusInvalidToken, status)
	})
}

func TestInitializeContext_BadChallenge(t *testing.T) {
	tbl := narrowTable(t, New(Config{}))
	cred, _, status := tbl.AcquireCredentials(nil, narrow("NTLM"), ssp.CredentialOutbound, identity("alice", "", "pw"))
	require.Equal(t, ssp.StatusOK, status)

	res, status := tbl.InitializeContext(cred, nil, nil, 0, nil)
	require.Equal(t, ssp.StatusContinueNeeded, status)
	h := res.Handle

	_, status = tbl.InitializeContext(cred, &h, nil, 0, nil)
	assert.Equal(t, ssp.StatusInvalidToken, status)
	_, status = tbl.InitializeContext(cred, &h, nil, 0, ssp.TokenBuffers([]byte("not a challenge message")))
	assert.Equal(t, ssp.StatusInvalidToken, status)
}

func TestAcquireCredentials(t *testing.T) {
	m := New(Config{})
	tbl := narrowTable(t, m)

	tests := []struct {
		name   string
		use    ssp.CredentialUse
		id     *ssp.AuthIdentity[transcode.Narrow]
		pkg    string
		status ssp.Status
		want   string
	}{
		{name: "qualified user", use: ssp.CredentialOutbound, id: identity(`CORP\bob`, "", "pw"), pkg: "NTLM", want: `CORP\bob`},
		{name: "explicit domain wins", use: ssp.CredentialOutbound, id: identity(`CORP\bob`, "EXAMPLE", "pw"), pkg: "NTLM", want: `EXAMPLE\bob`},
		{name: "upn", use: ssp.CredentialOutbound, id: identity("bob@corp.example", "", "pw"), pkg: "NTLM", want: "bob@corp.example"},
		{name: "inbound", use: ssp.CredentialInbound, id: identity("bob", "", "pw"), pkg: "NTLM", status: ssp.StatusUnsupported},
		{name: "no identity", use: ssp.CredentialOutbound, pkg: "NTLM", status: ssp.StatusNoCredentials},
		{name: "anonymous", use: ssp.CredentialOutbound, id: identity("", "", ""), pkg: "NTLM", status: ssp.StatusNoCredentials},
		{name: "wrong package", use: ssp.CredentialOutbound, id: identity("bob", "", "pw"), pkg: "Kerberos", status: ssp.StatusSecpkgNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, _, status := tbl.AcquireCredentials(nil, narrow(tt.pkg), tt.use, tt.id)
			require.Equal(t, tt.status, status)
			if status != ssp.StatusOK {
				return
			}
			v, status := tbl.QueryCredentialsAttributes(cred, ssp.AttrNames)
			require.Equal(t, ssp.StatusOK, status)
			assert.Equal(t, tt.want, string(v.Name))
			assert.Equal(t, ssp.StatusOK, tbl.FreeCredentials(cred))
		})
	}

	_, status := tbl.AcquireCredentials(nil, transcode.Narrow{0xff}, ssp.CredentialOutbound, nil)
	assert.Equal(t, ssp.StatusInvalidParameter, status)
}

func TestQueryPackageInfo(t *testing.T) {
	tbl := narrowTable(t, New(Config{}))
	info, status := tbl.QueryPackageInfo(narrow("NTLM"))
	require.Equal(t, ssp.StatusOK, status)
	assert.Equal(t, uint32(DefaultMaxToken), info.MaxToken)
	assert.Equal(t, uint16(rpcID), info.RPCID)
	assert.NotZero(t, info.Capabilities&ssp.CapClientOnly)

	_, status = tbl.AcceptContext(ssp.CredHandle{}, nil, nil, 0)
	assert.Equal(t, ssp.StatusUnsupported, status)
}

// TestEngine_WideCaller drives the narrow-only module through the wide
// engine surface, so every text argument crosses the thunk.
func TestEngine_WideCaller(t *testing.T) {
	m := New(Config{})
	reg := registry.New(loader.NewStatic(map[string]ssp.Module{"builtin/ntlm": m}),
		registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := reg.Register(registry.Entry{Name: DefaultName, Module: "builtin/ntlm", MaxToken: DefaultMaxToken})
	require.NoError(t, err)
	api := negotiate.New(reg).Wide()

	cred, _, err := api.AcquireCredentials(nil, transcode.WideString("NTLM"), ssp.CredentialOutbound,
		&ssp.AuthIdentity[transcode.Wide]{
			User:     transcode.WideString("jürgen"),
			Domain:   transcode.WideString("EXAMPLE"),
			Password: transcode.WideString("pässword"),
		})
	require.NoError(t, err)

	h, r, err := api.InitializeContext(cred, negotiate.ContextHandle{}, transcode.WideString("HTTP/host"), 0, nil)
	require.NoError(t, err)
	assert.True(t, r.Continue())
	require.NoError(t, r.Free())

	h, r, err = api.InitializeContext(cred, h, nil, 0, ssp.TokenBuffers(challenge("EXAMPLE")))
	require.NoError(t, err)
	assert.Equal(t, ssp.StatusOK, r.Status)
	assert.NotEmpty(t, r.Token())
	require.NoError(t, r.Free())
	assert.Equal(t, negotiate.StateEstablished, api.ContextState(h))

	v, err := api.QueryContextAttributes(h, ssp.AttrNames)
	require.NoError(t, err)
	assert.Equal(t, `EXAMPLE\jürgen`, v.Name.String())

	_, err = api.AcceptContext(cred, negotiate.ContextHandle{}, ssp.TokenBuffers([]byte("x")), 0)
	assert.ErrorIs(t, err, negotiate.ErrCredentialUsage)

	require.NoError(t, api.DeleteContext(h))
	require.NoError(t, api.FreeCredentials(cred))
}
