package ssp

import (
	"testing"
	"time"

	"github.com/smnsjas/go-sspi/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// narrowRecorder is a narrow-native table that remembers what it received.
type narrowRecorder struct {
	UnsupportedTable[transcode.Narrow]

	calls      int
	target     string
	targetView transcode.Narrow
	pkg        string
	user       string
	password   transcode.Narrow
}

func (r *narrowRecorder) AcquireCredentials(principal, pkg transcode.Narrow, use CredentialUse, id *AuthIdentity[transcode.Narrow]) (CredHandle, time.Time, Status) {
	r.calls++
	r.pkg = string(pkg)
	if id != nil {
		r.user = string(id.User)
		r.password = id.Password
	}
	return CredHandle{Lower: 1}, time.Time{}, StatusOK
}

func (r *narrowRecorder) InitializeContext(cred CredHandle, ctx *CtxtHandle, target transcode.Narrow, req ContextFlags, input BufferSet) (ContextResult, Status) {
	r.calls++
	r.target = string(target)
	r.targetView = target
	return ContextResult{
		Handle: CtxtHandle{Lower: 7},
		Output: TokenBuffers([]byte("round-1")),
	}, StatusContinueNeeded
}

func (r *narrowRecorder) QueryContextAttributes(ctx CtxtHandle, attr Attribute) (AttrValue[transcode.Narrow], Status) {
	r.calls++
	if attr != AttrNames {
		return AttrValue[transcode.Narrow]{}, StatusUnsupported
	}
	return AttrValue[transcode.Narrow]{Name: transcode.Narrow(r.target)}, StatusOK
}

func (r *narrowRecorder) QueryPackageInfo(pkg transcode.Narrow) (PackageInfo[transcode.Narrow], Status) {
	r.calls++
	return PackageInfo[transcode.Narrow]{
		MaxToken: 1024,
		Name:     pkg,
		Comment:  transcode.Narrow("narrow only"),
	}, StatusOK
}

func TestWideOf_NonASCIITargetRoundTrip(t *testing.T) {
	native := &narrowRecorder{}
	wide := WideOf(native, transcode.Default())

	target := transcode.WideString("hōst")
	res, status := wide.InitializeContext(CredHandle{}, nil, target, FlagMutualAuth, nil)
	require.Equal(t, StatusContinueNeeded, status)
	assert.Equal(t, "round-1", string(res.Output.Token()))
	assert.Equal(t, "hōst", native.target)

	v, status := wide.QueryContextAttributes(res.Handle, AttrNames)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, target, v.Name)
	assert.Equal(t, "hōst", v.Name.String())
}

func TestWideOf_ReleasesIntermediateCopies(t *testing.T) {
	native := &narrowRecorder{}
	wide := WideOf(native, transcode.Default())

	_, status := wide.InitializeContext(CredHandle{}, nil, transcode.WideString("svc/host"), 0, nil)
	require.Equal(t, StatusContinueNeeded, status)
	assert.Equal(t, "svc/host", native.target)
	assert.Equal(t, make(transcode.Narrow, len("svc/host")), native.targetView)

	id := &AuthIdentity[transcode.Wide]{
		User:     transcode.WideString("alice"),
		Password: transcode.WideString("s3cret"),
	}
	_, _, status = wide.AcquireCredentials(nil, transcode.WideString("TESTPKG"), CredentialOutbound, id)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "alice", native.user)
	assert.Equal(t, "TESTPKG", native.pkg)
	assert.Equal(t, make(transcode.Narrow, len("s3cret")), native.password)

	// The caller's own copy is untouched.
	assert.Equal(t, "s3cret", id.Password.String())
}

func TestWideOf_ConversionFailureSkipsNativeCall(t *testing.T) {
	native := &narrowRecorder{}
	wide := WideOf(native, transcode.Default())

	_, status := wide.InitializeContext(CredHandle{}, nil, transcode.Wide{'h', 0xD800}, 0, nil)
	assert.Equal(t, StatusConversionFailed, status)

	id := &AuthIdentity[transcode.Wide]{User: transcode.WideString("bob"), Password: transcode.Wide{0xDC00}}
	_, _, status = wide.AcquireCredentials(nil, transcode.WideString("TESTPKG"), CredentialOutbound, id)
	assert.Equal(t, StatusConversionFailed, status)

	assert.Zero(t, native.calls)
}

func TestWideOf_NullPassesThrough(t *testing.T) {
	native := &narrowRecorder{}
	wide := WideOf(native, transcode.Default())

	_, _, status := wide.AcquireCredentials(nil, transcode.WideString("TESTPKG"), CredentialOutbound, nil)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, 1, native.calls)
}

func TestWideOf_PackageInfo(t *testing.T) {
	wide := WideOf(&narrowRecorder{}, transcode.Default())

	info, status := wide.QueryPackageInfo(transcode.WideString("Pkg"))
	require.Equal(t, StatusOK, status)
	assert.Equal(t, "Pkg", info.Name.String())
	assert.Equal(t, "narrow only", info.Comment.String())
	assert.Equal(t, uint32(1024), info.MaxToken)
}

func TestNarrowOf_CodePageFailure(t *testing.T) {
	codec, err := transcode.NewCodec("windows-1252")
	require.NoError(t, err)

	wideNative := &wideRecorder{}
	narrow := NarrowOf(wideNative, codec)

	_, status := narrow.InitializeContext(CredHandle{}, nil, transcode.Narrow{'h', 0x81}, 0, nil)
	assert.Equal(t, StatusConversionFailed, status)
	assert.False(t, wideNative.called)

	_, status = narrow.InitializeContext(CredHandle{}, nil, transcode.Narrow{'c', 'a', 'f', 0xe9}, 0, nil)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "café", wideNative.target)
}

func TestAdapt_PassThroughEntries(t *testing.T) {
	wide := WideOf(&narrowRecorder{}, transcode.Default())

	assert.Equal(t, StatusUnsupported, wide.DeleteContext(CtxtHandle{}))
	assert.Equal(t, StatusOK, wide.FreeBuffer([]byte("x")))
	_, status := wide.VerifySignature(CtxtHandle{}, nil, 0)
	assert.Equal(t, StatusUnsupported, status)
}

type wideRecorder struct {
	UnsupportedTable[transcode.Wide]

	called bool
	target string
}

func (r *wideRecorder) InitializeContext(cred CredHandle, ctx *CtxtHandle, target transcode.Wide, req ContextFlags, input BufferSet) (ContextResult, Status) {
	r.called = true
	r.target = target.String()
	return ContextResult{}, StatusOK
}
