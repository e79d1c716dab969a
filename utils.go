/*
File: utils.go
Description: Small helpers for client address handling in the HTTP layer.
*/

package main

import (
	"net"
	"net/netip"
)

// clientKey reduces an http.Request RemoteAddr ("ip:port") to the bare IP string
// used for rate limiting. Unparseable input is returned unchanged.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}
