// Package sspi provides a pluggable security package framework modeled on
// the Windows Security Support Provider Interface.
//
// Security packages (NTLM, Kerberos, a loopback reference package, the
// Windows system providers or any shared library exporting the SSPI entry
// points) are registered by name, loaded on first use and driven through
// one negotiation engine that speaks both narrow and wide strings.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  negotiate/    Credentials, contexts, handshake driver  │
//	├─────────────────────────────────────────────────────────┤
//	│  registry/     Package descriptors + provider loading   │
//	├─────────────────────────────────────────────────────────┤
//	│  ssp/          Dispatch tables + narrow/wide thunks     │
//	├─────────────────────────────────────────────────────────┤
//	│  transcode/    Narrow charset <-> UTF-16 conversion     │
//	└─────────────────────────────────────────────────────────┘
//
// Providers live under packages/ and are reached through a loader: the
// in-process loader.Static, or loader/dl for shared libraries.
//
// # Quick Start
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := cfg.Registry(slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine := negotiate.New(reg)
//	api := engine.Wide()
//
//	client, _, err := api.AcquireCredentials(nil, transcode.WideString("TESTPKG"), ssp.CredentialOutbound, nil)
//	server, _, err := api.AcquireCredentials(nil, transcode.WideString("TESTPKG"), ssp.CredentialInbound, nil)
//
//	res, err := negotiate.Handshake(api, api, client, server, transcode.WideString("host/example.com"), negotiate.HandshakeOptions{})
package sspi
