package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// ErrUntrustedPeer is returned when a caller header arrives from a peer that
// is not an allowed proxy.
var ErrUntrustedPeer = errors.New("caller header not accepted from this peer")

// Authenticator resolves the caller identity of a mutating request. A zero
// address means the request carries none.
type Authenticator func(r *http.Request) (domain.Address, error)

// HeaderAuthenticator reads the identity from header without checking it.
//
// Anyone who can reach the server can claim any identity this way, the owner
// included. Use it only behind a gateway that strips and sets the header, or
// prefer TrustedProxyAuthenticator.
func HeaderAuthenticator(header string) Authenticator {
	return func(r *http.Request) (domain.Address, error) {
		return domain.NormalizeAddress(r.Header.Get(header)), nil
	}
}

// TrustedProxyAuthenticator reads the identity from header only when the
// request comes directly from one of proxies. Entries are CIDR prefixes or
// bare IP addresses.
func TrustedProxyAuthenticator(header string, proxies []string) (Authenticator, error) {
	prefixes := make([]netip.Prefix, 0, len(proxies))
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	if len(prefixes) == 0 {
		return nil, errors.New("no trusted proxies configured")
	}
	readHeader := HeaderAuthenticator(header)
	return func(r *http.Request) (domain.Address, error) {
		caller, _ := readHeader(r)
		if caller.IsZero() {
			return "", nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		peer, err := netip.ParseAddr(host)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrUntrustedPeer, r.RemoteAddr)
		}
		peer = peer.Unmap()
		for _, p := range prefixes {
			if p.Contains(peer) {
				return caller, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrUntrustedPeer, peer)
	}, nil
}
