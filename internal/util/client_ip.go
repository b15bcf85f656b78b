package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP used for rate-limit keys. The forwarded
// header is only honored when the direct peer is a loopback/private address,
// which covers the usual reverse-proxy deployment without a CIDR allowlist.
func ClientIP(r *http.Request) string {
	remoteIP := parseRemoteIP(r.RemoteAddr)
	if remoteIP == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !remoteIP.IsLoopback() && !remoteIP.IsPrivate() {
		return remoteIP.String()
	}
	if forwarded := parseForwardedFor(r.Header.Get("X-Forwarded-For")); forwarded != nil {
		return forwarded.String()
	}
	if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
		return realIP.String()
	}
	return remoteIP.String()
}

// parseForwardedFor returns the first valid address in the chain, the one
// closest to the original client.
func parseForwardedFor(raw string) net.IP {
	for _, part := range strings.Split(raw, ",") {
		if ip := parseIP(part); ip != nil {
			return ip
		}
	}
	return nil
}

func parseRemoteIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}
