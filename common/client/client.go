package client

import (
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/Laisky/errors/v2"

	"github.com/dfft546/gproxy/common/config"
)

var (
	mu      sync.Mutex
	clients = map[string]*http.Client{}
)

// Get returns the process-wide HTTP client for the given outbound proxy URL.
// Clients are reused per proxy key; an empty key is the direct client.
// The client carries no total timeout: streaming responses are bounded by
// the per-request context instead.
func Get(proxyURL string) (*http.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := clients[proxyURL]; ok {
		return c, nil
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: config.ConnectTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parse proxy url %q", proxyURL)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	c := &http.Client{Transport: transport}
	clients[proxyURL] = c
	return c, nil
}
