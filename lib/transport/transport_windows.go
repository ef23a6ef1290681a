// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/seacliff-io/pier/lib/ipc"
)

// dialerFor selects the named pipe dialer. The pipe path in the
// socket-info file is the full \\.\pipe\... name.
func dialerFor(info ipc.DaemonInfo) (dialFunc, error) {
	if info.Kind != ipc.TransportNamedPipe {
		return nil, fmt.Errorf("transport kind %q is not supported on this platform", info.Kind)
	}
	path := info.Path
	return func(ctx context.Context) (net.Conn, error) {
		return winio.DialPipeContext(ctx, path)
	}, nil
}
