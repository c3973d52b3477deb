// Package network builds proxy-aware dialers for outbound connections.
package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// ContextDialFunc matches http.Transport.DialContext and redis.Options.Dialer.
type ContextDialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewSOCKS5Dialer creates a SOCKS5 proxy dialer.
func NewSOCKS5Dialer(host string, port int) (proxy.ContextDialer, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", addr, err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", addr)
	}
	return cd, nil
}

// DialerFunc creates a dial function from SOCKS5 proxy settings.
// If host is empty, returns nil (no proxy).
func DialerFunc(host string, port int) ContextDialFunc {
	if host == "" {
		return nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := NewSOCKS5Dialer(host, port)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// HTTPClient returns a client for archive downloads. A nil dial uses the
// default transport. The timeout bounds connection setup and response
// headers, not the body transfer.
func HTTPClient(dial ContextDialFunc, timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if dial != nil {
		tr.DialContext = dial
		tr.Proxy = nil
	}
	if timeout > 0 {
		tr.ResponseHeaderTimeout = timeout
		tr.TLSHandshakeTimeout = timeout
	}
	return &http.Client{Transport: tr}
}
