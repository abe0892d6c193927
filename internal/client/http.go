package client

/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client holds the shared HTTP client used to fetch remote input
sources. It is configured once at startup and reused by every fetch so
connections to the same host are pooled.
*/

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultUserAgent is sent with every request unless Config overrides it.
const DefaultUserAgent = "tagex/1.0"

var (
	defaultDialTimeout      = 5 * time.Second
	defaultKeepAliveTimeout = 60 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultMaxIdleConns     = 100
	defaultMaxConnsPerHost  = 16
	defaultRequestTimeout   = 30 * time.Second

	// sharedClient is lazily initialized on first use or when explicitly configured.
	sharedClient      *http.Client
	sharedUserAgent   = DefaultUserAgent
	sharedClientLock  sync.RWMutex
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config results in default settings being used.
type Config struct {
	DialTimeout      time.Duration
	KeepAliveTimeout time.Duration
	IdleConnTimeout  time.Duration
	MaxIdleConns     int
	// MaxConnsPerHost caps dialing, active and idle connections per host. On
	// limit violation, dials block.
	MaxConnsPerHost int
	// RequestTimeout covers the whole request including reading the body.
	RequestTimeout time.Duration
	UserAgent      string
}

// DefaultConfig returns a new Config populated with default settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:      defaultDialTimeout,
		KeepAliveTimeout: defaultKeepAliveTimeout,
		IdleConnTimeout:  defaultIdleConnTimeout,
		MaxIdleConns:     defaultMaxIdleConns,
		MaxConnsPerHost:  defaultMaxConnsPerHost,
		RequestTimeout:   defaultRequestTimeout,
		UserAgent:        DefaultUserAgent,
	}
}

// InitHTTPClient initializes or reconfigures the shared client. A nil config
// uses DefaultConfig; zero fields are defaulted individually.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxConnsPerHost == 0 {
		c.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Avoid leaking idle keep-alive connections across reconfigs.
	if sharedClient != nil {
		if oldTransport, ok := sharedClient.Transport.(*http.Transport); ok && oldTransport != nil {
			oldTransport.CloseIdleConnections()
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.DialTimeout,
			KeepAlive: c.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxConnsPerHost,
		MaxConnsPerHost:       c.MaxConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	sharedClient = &http.Client{
		Transport: transport,
		Timeout:   c.RequestTimeout,
	}
	sharedUserAgent = c.UserAgent
	clientInitialized = true
}

// GetHTTPClient returns the shared client, initializing it with defaults if needed.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	client := sharedClient
	sharedClientLock.RUnlock()
	return client
}

func userAgent() string {
	sharedClientLock.RLock()
	defer sharedClientLock.RUnlock()
	return sharedUserAgent
}

// StatusError is returned by Get for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Get issues a GET with the shared client. The caller closes the body of
// the returned response, which always has a 2xx status.
func Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Accept", "text/*, application/json;q=0.9, */*;q=0.5")

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
