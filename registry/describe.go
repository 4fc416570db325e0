package registry

import (
	"fmt"

	"github.com/smnsjas/go-sspi/ssp"
	"github.com/smnsjas/go-sspi/transcode"
)

// Describe builds the Entry for package name by querying m's package info
// through its native table. It is used to register in-process modules
// whose metadata is not written down anywhere else.
func Describe(name, path string, m ssp.Module) (Entry, error) {
	narrow, wide, err := m.Tables()
	if err != nil {
		return Entry{}, fmt.Errorf("export dispatch tables: %w", err)
	}

	e := Entry{Name: name, Module: path}
	switch {
	case narrow != nil:
		info, status := narrow.QueryPackageInfo(transcode.Narrow(name))
		if status.Failed() {
			return Entry{}, fmt.Errorf("query package info %q: %s", name, status)
		}
		e.Capabilities, e.MaxToken, e.Version, e.RPCID = info.Capabilities, info.MaxToken, info.Version, info.RPCID
		e.Comment = string(info.Comment)
	case wide != nil:
		info, status := wide.QueryPackageInfo(transcode.WideString(name))
		if status.Failed() {
			return Entry{}, fmt.Errorf("query package info %q: %s", name, status)
		}
		e.Capabilities, e.MaxToken, e.Version, e.RPCID = info.Capabilities, info.MaxToken, info.Version, info.RPCID
		e.Comment = info.Comment.String()
	default:
		return Entry{}, ErrNoDispatchTable
	}
	return e, nil
}
