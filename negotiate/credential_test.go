package negotiate

import (
	"sync"
	"testing"
	"time"

	"github.com/smnsjas/go-sspi/loader"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTable is a narrow-native package whose InitializeContext answers
// with a fixed status. When entered is set, the first round signals it and
// waits for proceed.
type scriptedTable struct {
	ssp.UnsupportedTable[transcode.Narrow]

	status  ssp.Status
	entered chan struct{}
	proceed chan struct{}

	mu    sync.Mutex
	freed int
}

func (s *scriptedTable) AcquireCredentials(_, _ transcode.Narrow, _ ssp.CredentialUse, _ *ssp.AuthIdentity[transcode.Narrow]) (ssp.CredHandle, time.Time, ssp.Status) {
	return ssp.CredHandle{Lower: 1}, time.Time{}, ssp.StatusOK
}

func (s *scriptedTable) FreeCredentials(ssp.CredHandle) ssp.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freed++
	return ssp.StatusOK
}

func (s *scriptedTable) InitializeContext(_ ssp.CredHandle, _ *ssp.CtxtHandle, _ transcode.Narrow, _ ssp.ContextFlags, _ ssp.BufferSet) (ssp.ContextResult, ssp.Status) {
	if s.entered != nil {
		close(s.entered)
		<-s.proceed
	}
	if s.status.Failed() {
		return ssp.ContextResult{}, s.status
	}
	return ssp.ContextResult{Handle: ssp.CtxtHandle{Lower: 7}, Output: ssp.TokenBuffers([]byte("tok"))}, s.status
}

func (s *scriptedTable) DeleteContext(ssp.CtxtHandle) ssp.Status { return ssp.StatusOK }

func (s *scriptedTable) freedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freed
}

func newScriptedEngine(t *testing.T, tbl *scriptedTable) *Engine {
	t.Helper()
	mod := ssp.ModuleFunc(func() (ssp.NarrowTable, ssp.WideTable, error) { return tbl, nil, nil })
	reg := registry.New(loader.NewStatic(map[string]ssp.Module{"test/scripted": mod}), registry.WithLogger(discard))
	_, err := reg.Register(registry.Entry{Name: "SCRIPTED", Module: "test/scripted"})
	require.NoError(t, err)
	return New(reg, WithLogger(discard))
}

func TestProviderInvalidParameterIsNotConversionFailure(t *testing.T) {
	tbl := &scriptedTable{status: ssp.StatusInvalidParameter}
	e := newScriptedEngine(t, tbl)
	api := e.Narrow()

	cred, _, err := api.AcquireCredentials(nil, narrow("SCRIPTED"), ssp.CredentialOutbound, nil)
	require.NoError(t, err)

	_, _, err = api.InitializeContext(cred, ContextHandle{}, narrow("svc/host"), 0, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ssp.StatusInvalidParameter, se.Status)
	assert.NotErrorIs(t, err, ErrConversionFailed)

	// The failed first round left no reference behind.
	require.NoError(t, e.FreeCredentials(cred))
	assert.Equal(t, 1, tbl.freedCount())
}

func TestFreeCredentialsDuringFirstRound(t *testing.T) {
	tbl := &scriptedTable{
		status:  ssp.StatusContinueNeeded,
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	e := newScriptedEngine(t, tbl)
	api := e.Narrow()

	cred, _, err := api.AcquireCredentials(nil, narrow("SCRIPTED"), ssp.CredentialOutbound, nil)
	require.NoError(t, err)

	type result struct {
		h   ContextHandle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, r, err := api.InitializeContext(cred, ContextHandle{}, narrow("svc/host"), 0, nil)
		_ = r.Free()
		done <- result{h: h, err: err}
	}()

	<-tbl.entered
	assert.ErrorIs(t, e.FreeCredentials(cred), ErrCredentialInUse)
	assert.Zero(t, tbl.freedCount())
	close(tbl.proceed)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatePending, e.ContextState(res.h))
	got, ok := e.Credential(res.h)
	require.True(t, ok)
	assert.Equal(t, cred, got)

	require.NoError(t, e.DeleteContext(res.h))
	require.NoError(t, e.FreeCredentials(cred))
	assert.Equal(t, 1, tbl.freedCount())
	assert.ErrorIs(t, e.FreeCredentials(cred), ErrInvalidHandle)
}

func TestNewRoundOnFreedCredential(t *testing.T) {
	e := newScriptedEngine(t, &scriptedTable{status: ssp.StatusContinueNeeded})
	api := e.Narrow()

	cred, _, err := api.AcquireCredentials(nil, narrow("SCRIPTED"), ssp.CredentialOutbound, nil)
	require.NoError(t, err)
	c, ok := e.creds.get(cred.index, cred.gen)
	require.True(t, ok)
	require.True(t, c.close())

	_, _, err = api.InitializeContext(cred, ContextHandle{}, narrow("svc/host"), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
