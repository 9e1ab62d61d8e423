package store

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// proxyFunc selects a proxy from explicit settings, falling back to the environment.
// noProxy is a comma-separated list of hosts or domain suffixes that bypass the proxy.
func proxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	bypass := splitNoProxy(noProxy)
	return func(req *http.Request) (*url.URL, error) {
		if bypassProxy(req.URL.Hostname(), bypass) {
			return nil, nil
		}
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

func splitNoProxy(noProxy string) []string {
	var out []string
	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case entry == "*":
			out = append(out, entry)
		default:
			out = append(out, strings.TrimPrefix(entry, "*"))
		}
	}
	return out
}

func bypassProxy(host string, bypass []string) bool {
	host = strings.ToLower(host)
	for _, entry := range bypass {
		if entry == "*" {
			return true
		}
		if host == strings.TrimPrefix(entry, ".") || strings.HasSuffix(host, ensureDot(entry)) {
			return true
		}
	}
	return false
}

func ensureDot(entry string) string {
	if strings.HasPrefix(entry, ".") {
		return entry
	}
	return "." + entry
}

func newHTTPClient(httpProxy, httpsProxy, noProxy string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               proxyFunc(httpProxy, httpsProxy, noProxy),
			DialContext:         (&net.Dialer{KeepAlive: defaultKeepAlive}).DialContext,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     defaultIdleTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
