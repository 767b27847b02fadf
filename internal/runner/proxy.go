package runner

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// dialContextFunc matches http.Transport.DialContext.
type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// configureProxy routes a health check transport through the configured
// proxy. SOCKS5 proxies replace DialContext, so baseDial (which carries the
// reserved-address guard) still vets the proxy address itself. HTTP and HTTPS
// proxies go through Transport.Proxy. An empty or unusable proxy URL leaves
// the transport untouched and the probe dials the target directly.
func configureProxy(transport *http.Transport, proxyURL string, baseDial dialContextFunc) {
	if socks := socksDialer(proxyURL, baseDial); socks != nil {
		transport.DialContext = socks
		return
	}
	if u := httpProxyURL(proxyURL); u != nil {
		transport.Proxy = http.ProxyURL(u)
	}
}

// socksDialer returns a DialContext routed through a SOCKS5 proxy, or nil
// when the URL is empty, unparseable, or not SOCKS5.
func socksDialer(proxyURL string, baseDial dialContextFunc) dialContextFunc {
	if proxyURL == "" {
		return nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil || u.Scheme != "socks5" {
		return nil
	}

	var auth *proxy.Auth
	if u.User != nil {
		auth = &proxy.Auth{User: u.User.Username()}
		if p, ok := u.User.Password(); ok {
			auth.Password = p
		}
	}

	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, dialFunc(baseDial))
	if err != nil {
		return nil
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
}

// httpProxyURL returns the proxy URL for http.Transport.Proxy when it uses an
// HTTP scheme, nil otherwise.
func httpProxyURL(proxyURL string) *url.URL {
	if proxyURL == "" {
		return nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u
	}
	return nil
}

// dialFunc adapts a DialContext func to the proxy.Dialer interface.
type dialFunc dialContextFunc

func (d dialFunc) Dial(network, addr string) (net.Conn, error) {
	return d(context.Background(), network, addr)
}
