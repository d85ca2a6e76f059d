package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxAttempts is the default number of attempts for a provider call.
	DefaultMaxAttempts = 3
	// DefaultInitialInterval is the default initial delay between retries.
	DefaultInitialInterval = 1 * time.Second
	// DefaultMaxInterval caps the delay between retries.
	DefaultMaxInterval = 30 * time.Second
)

// RetryPolicy describes how provider calls should be retried. The policy is
// threaded down from the caller unchanged; only errors the provider marked
// retryable are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	// MaxRetries counts retries after the first attempt.
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// WithRetry wraps a Client so that Synchronous calls are retried per policy.
// Streaming calls are retried only for the initial connection; once a stream
// is open, errors surface to the consumer.
func WithRetry(client Client, policy RetryPolicy, logger zerolog.Logger) Client {
	return &retryClient{
		client: client,
		policy: policy,
		logger: logger.With().Str("component", "llmRetry").Logger(),
	}
}

type retryClient struct {
	client Client
	policy RetryPolicy
	logger zerolog.Logger
}

// Synchronous implements Client.Synchronous with retry support.
func (c *retryClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	op := func() error {
		var err error
		resp, err = c.client.Synchronous(ctx, req)
		if err != nil {
			return c.classify(err)
		}
		return nil
	}

	if err := backoff.Retry(op, c.policy.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream implements Client.Stream with retry support for the initial
// connection.
func (c *retryClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	var stream Stream
	op := func() error {
		var err error
		stream, err = c.client.Stream(ctx, req)
		if err != nil {
			return c.classify(err)
		}
		return nil
	}

	if err := backoff.Retry(op, c.policy.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return stream, nil
}

// classify marks non-retryable errors permanent so backoff stops early.
// Rate limit errors with an explicit retry-after hint log the hint; the
// backoff schedule itself is not altered.
func (c *retryClient) classify(err error) error {
	if !IsRetryableError(err) {
		return backoff.Permanent(err)
	}
	if after := ExtractRetryAfter(err); after != nil {
		c.logger.Debug().Dur("retryAfter", *after).Msg("Provider requested retry-after")
	}
	c.logger.Debug().Err(err).Msg("Retrying provider call")
	return err
}

var _ Client = (*retryClient)(nil)
