// Package client 提供HTTP客户端相关功能
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
)

const (
	// MaxIdleConns 最大空闲连接数
	MaxIdleConns = 200
	// MaxIdleConnsPerHost 每个主机的最大空闲连接数
	MaxIdleConnsPerHost = 50
	// MaxConnsPerHost 每个主机的最大连接数
	MaxConnsPerHost = 50
	// IdleConnTimeout 空闲连接超时时间
	IdleConnTimeout = 30 * time.Second
	// MaxBodySize caps the bytes read from a single tile response.
	MaxBodySize = 8 << 20
)

// Fetcher issues an HTTP GET and returns the status code and body.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string) (int, []byte, error)
}

// HTTPClient HTTP客户端封装
type HTTPClient struct {
	client *http.Client
	config *Config
}

// Config HTTP客户端配置
type Config struct {
	Timeout   time.Duration
	ProxyURL  string
	UseHTTP2  bool
	KeepAlive bool
	UserAgent string
}

// NewHTTPClient 创建新的HTTP客户端
func NewHTTPClient(config *Config) (*HTTPClient, error) {
	c, err := createHTTPClient(config)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{config: config, client: c}, nil
}

func createHTTPClient(config *Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     config.UseHTTP2,
		MaxIdleConns:          MaxIdleConns,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		MaxConnsPerHost:       MaxConnsPerHost,
		IdleConnTimeout:       IdleConnTimeout,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		DisableKeepAlives:     !config.KeepAlive,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", config.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if config.UseHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("failed to configure http2: %w", err)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}, nil
}

// Get implements Fetcher.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer SafeCloseResponse(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxBodySize {
		return resp.StatusCode, nil, fmt.Errorf("response exceeds %d bytes", MaxBodySize)
	}
	return resp.StatusCode, body, nil
}

// GetClient 获取HTTP客户端
func (c *HTTPClient) GetClient() *http.Client {
	return c.client
}

// CloseIdleConnections releases pooled connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// SafeCloseResponse 安全关闭响应体
func SafeCloseResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
