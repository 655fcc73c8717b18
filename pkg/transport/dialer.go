package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient returns an HTTP client with the given per-request timeout
// that routes through proxyAddr when set. Addresses without a scheme are
// taken as HTTP proxies.
func NewHTTPClient(proxyAddr string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyAddr = strings.TrimSpace(proxyAddr); proxyAddr != "" {
		if !strings.Contains(proxyAddr, "://") {
			proxyAddr = "http://" + proxyAddr
		}
		u, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("transport: proxy %q: %w", proxyAddr, err)
		}
		switch u.Scheme {
		case "http", "https":
			tr.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			d, err := proxy.FromURL(u, &net.Dialer{Timeout: timeout})
			if err != nil {
				return nil, fmt.Errorf("transport: proxy %q: %w", u.Redacted(), err)
			}
			tr.Proxy = nil
			if cd, ok := d.(proxy.ContextDialer); ok {
				tr.DialContext = cd.DialContext
			} else {
				tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return d.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("transport: unsupported proxy scheme %q", u.Scheme)
		}
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}
