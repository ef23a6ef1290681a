// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/seacliff-io/pier/lib/ipc"
)

// dialerFor selects the Unix domain socket dialer. Named pipes are a
// Windows-only transport; a socket-info file advertising one on POSIX
// is a daemon bug, reported as unsupported rather than dialed.
func dialerFor(info ipc.DaemonInfo) (dialFunc, error) {
	if info.Kind != ipc.TransportUnixSocket {
		return nil, fmt.Errorf("transport kind %q is not supported on this platform", info.Kind)
	}
	path := info.Path
	return func(ctx context.Context) (net.Conn, error) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, "unix", path)
	}, nil
}
