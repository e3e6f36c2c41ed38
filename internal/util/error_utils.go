// Package util 提供工具函数
package util

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrorStats 错误统计
type ErrorStats struct {
	errors map[string]int
	mu     sync.RWMutex
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		errors: make(map[string]int),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err error) {
	if err == nil {
		return
	}

	category := ClassifyError(err)

	es.mu.Lock()
	defer es.mu.Unlock()
	es.errors[category]++
}

// ClassifyError reduces an error to a short category for reporting.
func ClassifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "connection refused"
	case strings.Contains(errStr, "no such host"):
		return "dns lookup failed"
	case strings.Contains(errStr, "i/o timeout"):
		return "io timeout"
	case strings.Contains(errStr, "proxyconnect"):
		return "proxy connect failed"
	case strings.Contains(errStr, "tls handshake"):
		return "tls handshake failed"
	case strings.Contains(errStr, "HTTP 403"):
		return "HTTP 403 forbidden"
	case strings.Contains(errStr, "HTTP 404"):
		return "HTTP 404 not found"
	case strings.Contains(errStr, "HTTP 429"):
		return "HTTP 429 too many requests"
	case strings.Contains(errStr, "HTTP 5"):
		return "HTTP 5xx server error"
	case strings.Contains(errStr, "invalid tile"):
		return "invalid tile data"
	case strings.Contains(errStr, "storage"):
		return "storage write failed"
	}

	if len(errStr) > 50 {
		return errStr[:50] + "..."
	}
	return errStr
}

// GetErrorStats 获取错误统计
func (es *ErrorStats) GetErrorStats() map[string]int {
	es.mu.RLock()
	defer es.mu.RUnlock()

	stats := make(map[string]int, len(es.errors))
	for err, count := range es.errors {
		stats[err] = count
	}
	return stats
}

// HasErrors 检查是否有错误
func (es *ErrorStats) HasErrors() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	return len(es.errors) > 0
}
