package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const (
	HeaderSignature  = "X-EasyRemind-Signature"
	HeaderDeliveryID = "X-EasyRemind-Delivery-ID"

	DefaultTimeout = 10 * time.Second
)

type Request struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	DeliveryID string
	Body       []byte
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRetryable is true for transport errors, 408, 429 and 5xx.
func (r Result) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	switch r.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return r.StatusCode >= 500
}

type HTTPPoster struct {
	client *http.Client
}

func NewHTTPPoster() *HTTPPoster {
	return &HTTPPoster{
		client: &http.Client{},
	}
}

// Post sends the body with an HMAC-SHA256 signature of the body.
func (p *HTTPPoster) Post(ctx context.Context, req Request) Result {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderDeliveryID, req.DeliveryID)
	httpReq.Header.Set(HeaderSignature, ComputeSignature(req.Secret, req.Body))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to check incoming deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
