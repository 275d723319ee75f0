package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIdentity derives the key a request is counted under.
type ClientIdentity struct {
	trustProxy bool
	trusted    []*net.IPNet
}

// NewClientIdentity parses the trusted proxy ranges. Single addresses are
// accepted as /32 or /128.
func NewClientIdentity(trustProxy bool, trustedProxies []string) (*ClientIdentity, error) {
	nets := make([]*net.IPNet, 0, len(trustedProxies))
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		nets = append(nets, ipNet)
	}
	return &ClientIdentity{trustProxy: trustProxy, trusted: nets}, nil
}

// Key returns the client IP for r. Forwarding headers are only read when
// proxy trust is enabled and the direct peer is itself a trusted proxy;
// X-Forwarded-For is walked right to left past further trusted hops.
func (c *ClientIdentity) Key(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !c.trustProxy || !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			if !c.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func (c *ClientIdentity) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
