package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHTTPClient(t *testing.T) {
	config := &Config{
		Timeout:   60 * time.Second,
		UseHTTP2:  false,
		KeepAlive: true,
		UserAgent: "TestAgent",
	}

	c, err := NewHTTPClient(config)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	httpClient := c.GetClient()
	if httpClient.Timeout != 60*time.Second {
		t.Errorf("Expected timeout 60s, got %v", httpClient.Timeout)
	}

	transport, ok := httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatal("Transport is not http.Transport")
	}
	if transport.MaxIdleConns != MaxIdleConns {
		t.Errorf("Expected MaxIdleConns %d, got %d", MaxIdleConns, transport.MaxIdleConns)
	}
	if transport.MaxIdleConnsPerHost != MaxIdleConnsPerHost {
		t.Errorf("Expected MaxIdleConnsPerHost %d, got %d", MaxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	}
	if transport.ForceAttemptHTTP2 {
		t.Error("Expected ForceAttemptHTTP2 to be false")
	}
}

func TestNewHTTPClientWithHTTP2(t *testing.T) {
	c, err := NewHTTPClient(&Config{Timeout: 30 * time.Second, UseHTTP2: true, KeepAlive: true})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	transport, ok := c.GetClient().Transport.(*http.Transport)
	if !ok {
		t.Fatal("Transport is not http.Transport")
	}
	if !transport.ForceAttemptHTTP2 {
		t.Error("Expected ForceAttemptHTTP2 to be true")
	}
}

func TestNewHTTPClientBadProxy(t *testing.T) {
	if _, err := NewHTTPClient(&Config{ProxyURL: "://bad"}); err == nil {
		t.Error("expected error for malformed proxy url")
	}
}

func TestGet(t *testing.T) {
	var gotUA, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Extra")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(&Config{Timeout: 5 * time.Second, KeepAlive: true, UserAgent: "slippytile-test"})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	status, body, err := c.Get(context.Background(), srv.URL+"/ok", map[string]string{"X-Extra": "1"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if status != http.StatusOK || string(body) != "payload" {
		t.Errorf("Get = %d %q", status, body)
	}
	if gotUA != "slippytile-test" || gotExtra != "1" {
		t.Errorf("headers not sent: ua=%q extra=%q", gotUA, gotExtra)
	}

	status, _, err = c.Get(context.Background(), srv.URL+"/missing", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
}

func TestGetCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(&Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Get(ctx, srv.URL, nil); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestConstants(t *testing.T) {
	if MaxIdleConns != 200 {
		t.Errorf("Expected MaxIdleConns 200, got %d", MaxIdleConns)
	}
	if IdleConnTimeout != 30*time.Second {
		t.Errorf("Expected IdleConnTimeout 30s, got %v", IdleConnTimeout)
	}
}
