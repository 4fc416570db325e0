package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/smnsjas/go-sspi/negotiate"
	"github.com/smnsjas/go-sspi/packages/loopback"
	"github.com/smnsjas/go-sspi/registry"
	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

func (s *session) packages(args []string) error {
	fs := flag.NewFlagSet("packages", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: packages takes no arguments", errUsage)
	}

	tw := tabwriter.NewWriter(s.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODULE\tCAPABILITIES\tMAX TOKEN\tLOADED\tCOMMENT")
	for _, d := range s.reg.Packages() {
		fmt.Fprintf(tw, "%s\t%s\t%#08x\t%d\t%t\t%s\n",
			d.Name(), d.Module(), uint32(d.Capabilities()), d.MaxToken(), d.Provider() != nil, d.Comment())
	}
	return tw.Flush()
}

func (s *session) info(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: info takes exactly one package name", errUsage)
	}

	d, err := s.reg.FindPackage(fs.Arg(0))
	if err != nil {
		return err
	}
	p := d.Provider()
	info, status := p.Wide().QueryPackageInfo(transcode.WideString(d.Name()))
	if status.Failed() {
		return fmt.Errorf("query package info %s: %s", d.Name(), status)
	}

	tw := tabwriter.NewWriter(s.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", info.Name.String())
	fmt.Fprintf(tw, "Comment:\t%s\n", info.Comment.String())
	fmt.Fprintf(tw, "Module:\t%s\n", p.Identity())
	fmt.Fprintf(tw, "Capabilities:\t%#08x\n", uint32(info.Capabilities))
	fmt.Fprintf(tw, "Version:\t%d\n", info.Version)
	fmt.Fprintf(tw, "RPC ID:\t%d\n", info.RPCID)
	fmt.Fprintf(tw, "Max token:\t%d\n", info.MaxToken)
	fmt.Fprintf(tw, "Native tables:\t%s\n", natives(p))
	return tw.Flush()
}

func natives(p *registry.Provider) string {
	var out []string
	for _, e := range []registry.Encoding{registry.EncodingNarrow, registry.EncodingWide} {
		if p.Native(e) {
			out = append(out, e.String())
		}
	}
	return strings.Join(out, ", ")
}

// flagNames maps -flags values to context request flags.
var flagNames = map[string]ssp.ContextFlags{
	"delegate":        ssp.FlagDelegate,
	"mutual":          ssp.FlagMutualAuth,
	"replay":          ssp.FlagReplayDetect,
	"sequence":        ssp.FlagSequenceDetect,
	"confidentiality": ssp.FlagConfidentiality,
	"session-key":     ssp.FlagUseSessionKey,
	"connection":      ssp.FlagConnection,
	"integrity":       ssp.FlagIntegrity,
}

func parseFlags(s string) (ssp.ContextFlags, error) {
	var f ssp.ContextFlags
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		v, ok := flagNames[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown context flag %q", errUsage, name)
		}
		f |= v
	}
	return f, nil
}

func (s *session) handshake(args []string) (err error) {
	fs := flag.NewFlagSet("handshake", flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	pkg := fs.String("package", loopback.DefaultName, "Initiator package")
	acceptorPkg := fs.String("acceptor", "", "Acceptor package (default: -package)")
	target := fs.String("target", "host/localhost", "Target name passed to the initiator")
	principal := fs.String("principal", "", "Acceptor principal (default: package default)")
	username := fs.String("user", "", "Initiator user name (default: logged-on credentials)")
	domain := fs.String("domain", "", "Initiator domain")
	flagList := fs.String("flags", "mutual,integrity", "Requested context flags, comma separated")
	rounds := fs.Int("max-rounds", s.cfg.MaxRounds, "Maximum initiator rounds")
	message := fs.String("sign", "sspictl", "Message to sign and verify once established (empty to skip)")
	useNarrow := fs.Bool("narrow", false, "Drive the initiator through the narrow entry points")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: handshake takes no arguments", errUsage)
	}
	if *acceptorPkg == "" {
		*acceptorPkg = *pkg
	}
	req, err := parseFlags(*flagList)
	if err != nil {
		return err
	}

	engine := s.engine()
	wide := engine.Wide()

	var identity *ssp.AuthIdentity[transcode.Wide]
	if *username != "" {
		password, err := s.password()
		if err != nil {
			return err
		}
		identity = &ssp.AuthIdentity[transcode.Wide]{
			User:     transcode.WideString(*username),
			Domain:   transcode.WideString(*domain),
			Password: transcode.WideString(password),
		}
		defer transcode.ReleaseWide(identity.Password)
	}

	client, _, err := wide.AcquireCredentials(nil, transcode.WideString(*pkg), ssp.CredentialOutbound, identity)
	if err != nil {
		return fmt.Errorf("acquire initiator credentials: %w", err)
	}
	defer func() { err = errors.Join(err, engine.FreeCredentials(client)) }()

	var p transcode.Wide
	if *principal != "" {
		p = transcode.WideString(*principal)
	}
	server, _, err := wide.AcquireCredentials(p, transcode.WideString(*acceptorPkg), ssp.CredentialInbound, nil)
	if err != nil {
		return fmt.Errorf("acquire acceptor credentials: %w", err)
	}
	defer func() { err = errors.Join(err, engine.FreeCredentials(server)) }()

	opts := negotiate.HandshakeOptions{Flags: req, MaxRounds: *rounds}
	var res *negotiate.HandshakeResult
	if *useNarrow {
		t, cerr := s.reg.Codec().NarrowString(*target)
		if cerr != nil {
			return fmt.Errorf("encode target: %w", cerr)
		}
		res, err = negotiate.Handshake(engine.Narrow(), wide, client, server, t, opts)
	} else {
		res, err = negotiate.Handshake(wide, wide, client, server, transcode.WideString(*target), opts)
	}
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer func() {
		err = errors.Join(err, engine.DeleteContext(res.Client), engine.DeleteContext(res.Server))
	}()

	return s.report(engine, res, *message)
}

// report prints the established pair and, when message is set and the
// package signs, round-trips a signature from initiator to acceptor.
func (s *session) report(engine *negotiate.Engine, res *negotiate.HandshakeResult, message string) error {
	wide := engine.Wide()
	fmt.Fprintf(s.stdout, "Established after %d round(s)\n", res.Rounds)

	tw := tabwriter.NewWriter(s.stdout, 0, 4, 2, ' ', 0)
	for _, side := range []struct {
		name string
		h    negotiate.ContextHandle
	}{{"initiator", res.Client}, {"acceptor", res.Server}} {
		pkg, _ := engine.Package(side.h)
		fmt.Fprintf(tw, "%s:\t%s\tpackage=%s\tstate=%s\n", side.name, side.h, pkg, engine.ContextState(side.h))
		if v, err := wide.QueryContextAttributes(side.h, ssp.AttrFlags); err == nil {
			fmt.Fprintf(tw, "\tflags=%#08x\n", uint32(v.Flags))
		}
	}
	if v, err := wide.QueryContextAttributes(res.Server, ssp.AttrNames); err == nil {
		fmt.Fprintf(tw, "client name:\t%s\n", v.Name.String())
	}
	sizes, err := wide.QueryContextAttributes(res.Client, ssp.AttrSizes)
	if err == nil {
		fmt.Fprintf(tw, "sizes:\tmax_token=%d max_signature=%d block=%d trailer=%d\n",
			sizes.Sizes.MaxToken, sizes.Sizes.MaxSignature, sizes.Sizes.BlockSize, sizes.Sizes.SecurityTrailer)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if message == "" || err != nil || sizes.Sizes.MaxSignature == 0 {
		return nil
	}
	msg := ssp.BufferSet{
		{Kind: ssp.BufferData, Data: []byte(message)},
		{Kind: ssp.BufferToken, Data: make([]byte, sizes.Sizes.MaxSignature)},
	}
	if err := engine.MakeSignature(res.Client, 0, msg, 0); err != nil {
		return fmt.Errorf("make signature: %w", err)
	}
	if _, err := engine.VerifySignature(res.Server, msg, 0); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	fmt.Fprintf(s.stdout, "Signature verified (%d bytes)\n", len(msg[1].Data))
	return nil
}
