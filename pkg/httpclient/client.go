package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RateLimitInfo is what a provider's rate-limit response headers communicate.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser extracts rate-limit information from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// Client is a retrying HTTP client. Connection pooling is shared through the
// process-wide default transport; retries are classified per the error
// taxonomy and delayed per the retry policy.
type Client struct {
	client       *http.Client
	retry        *RetryManager
	headerParser RateLimitHeaderParser
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithRetryManager(retry *RetryManager) Option {
	return func(c *Client) {
		c.retry = retry
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client: &http.Client{Timeout: 120 * time.Second},
		retry:  NewRetryManager(),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.retry.OnRetry == nil {
		client.retry.OnRetry = func(kind ErrorKind, attempt int, delay time.Duration) {
			slog.Warn("Retrying HTTP request", "kind", string(kind), "attempt", attempt, "delay", delay)
		}
	}
	return client
}

// Do performs the request with retries. Non-2xx responses with a retryable
// classification are retried; the body of a failed final attempt is left for
// the caller to read. Requests with bodies must set GetBody (the standard
// library does this for byte readers).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	err := c.retry.Do(req.Context(), func() error {
		if resp != nil && resp.Body != nil {
			// Drain the previous failed attempt so the connection is reusable.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return &Error{Kind: KindUnknown, Message: "failed to recreate request body", Err: err}
			}
			req.Body = body
		}

		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return &Error{Kind: Classify(err), Message: err.Error(), Err: err}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		httpErr := &Error{
			Kind:       ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
		if c.headerParser != nil {
			info := c.headerParser(resp.Header)
			if info.RetryAfter > 0 {
				httpErr.RetryAfter = info.RetryAfter
			} else if info.ResetTime > 0 {
				if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
					httpErr.RetryAfter = until
				}
			}
		}
		return httpErr
	})

	if err != nil {
		return resp, err
	}
	return resp, nil
}

// NewRequest builds a context-bound request with a rewindable body.
func NewRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(newByteReader(body)), nil
		}
		req.Body, _ = req.GetBody()
		req.ContentLength = int64(len(body))
	}
	return req, nil
}

type byteReader struct {
	data []byte
	off  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}
