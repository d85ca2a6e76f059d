package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedClient fails a fixed number of times before succeeding.
type scriptedClient struct {
	failures int
	err      error
	calls    int
}

func (c *scriptedClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return &Response{Content: []ContentBlock{{Type: ContentBlockTypeText, Text: "ok"}}}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return nil, errors.New("stream not scripted")
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestWithRetry_RetryableErrorRetried(t *testing.T) {
	inner := &scriptedClient{failures: 2, err: NewNetworkError("connection reset", nil)}
	client := WithRetry(inner, fastPolicy(3), zerolog.Nop())

	resp, err := client.Synchronous(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("unexpected response: %q", resp.Text())
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestWithRetry_NonRetryableErrorFailsFast(t *testing.T) {
	cause := NewInvalidRequestError("bad request", nil)
	inner := &scriptedClient{failures: 5, err: cause}
	client := WithRetry(inner, fastPolicy(3), zerolog.Nop())

	_, err := client.Synchronous(context.Background(), &Request{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected original error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("non-retryable error must not be retried, got %d attempts", inner.calls)
	}
}

func TestWithRetry_PlainErrorNotRetried(t *testing.T) {
	cause := errors.New("some provider panic")
	inner := &scriptedClient{failures: 5, err: cause}
	client := WithRetry(inner, fastPolicy(3), zerolog.Nop())

	_, err := client.Synchronous(context.Background(), &Request{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected original error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("errors without retryable marking must fail fast, got %d attempts", inner.calls)
	}
}

func TestWithRetry_AttemptsExhausted(t *testing.T) {
	cause := NewRateLimitError("slow down", nil, nil)
	inner := &scriptedClient{failures: 10, err: cause}
	client := WithRetry(inner, fastPolicy(3), zerolog.Nop())

	_, err := client.Synchronous(context.Background(), &Request{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected original error after exhaustion, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected exactly MaxAttempts attempts, got %d", inner.calls)
	}
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	inner := &scriptedClient{failures: 100, err: NewNetworkError("down", nil)}
	client := WithRetry(inner, RetryPolicy{
		MaxAttempts:     100,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Synchronous(ctx, &Request{})
	if err == nil {
		t.Fatal("expected failure after context cancellation")
	}
	if inner.calls >= 10 {
		t.Errorf("cancellation should stop the retry loop early, got %d attempts", inner.calls)
	}
}

func TestWithRetry_StreamConnectionRetried(t *testing.T) {
	inner := &scriptedClient{failures: 1, err: NewNetworkError("down", nil)}
	client := WithRetry(inner, fastPolicy(3), zerolog.Nop())

	// The second attempt reaches the inner client's unscripted-stream error,
	// which is not retryable.
	_, err := client.Stream(context.Background(), &Request{})
	if err == nil || err.Error() != "stream not scripted" {
		t.Fatalf("expected inner stream error after one retry, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 connection attempts, got %d", inner.calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, policy.MaxAttempts)
	}
	if policy.InitialInterval != DefaultInitialInterval || policy.MaxInterval != DefaultMaxInterval {
		t.Errorf("unexpected intervals: %v/%v", policy.InitialInterval, policy.MaxInterval)
	}
}
