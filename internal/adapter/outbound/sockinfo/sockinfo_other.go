//go:build !unix && !windows

package sockinfo

import "github.com/Sentinel-Gate/tapgate/internal/domain/conn"

func protocol(int64) (string, bool) { return "", false }

func localEndpoint(int64) (conn.Endpoint, bool) { return conn.Endpoint{}, false }

func peerEndpoint(int64) (conn.Endpoint, bool) { return conn.Endpoint{}, false }
