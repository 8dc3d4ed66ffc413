package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/failure"
)

// DefaultClientTimeout bounds one round-trip to the agent.
const DefaultClientTimeout = 30 * time.Second

var (
	// ErrClientRefused is returned by a transport when the agent declines
	// to share a file.
	ErrClientRefused = errors.New("client refused the request")
	// ErrClientNotFound is returned by a transport when the file does not
	// exist on the agent's side.
	ErrClientNotFound = errors.New("client file not found")
)

// ClientTransport asks the connected agent for one of its files.
type ClientTransport interface {
	RequestClientFile(ctx context.Context, path string) ([]byte, error)
}

// Client fetches documents that live on the agent's filesystem. Timeouts
// are transient but never retried here: the agent paces its own replies.
type Client struct {
	transport ClientTransport
	timeout   time.Duration
	maxBytes  int64
	logger    *zap.Logger
}

type ClientOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	Logger   *zap.Logger
}

func NewClient(transport ClientTransport, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultClientTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxDocumentBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{transport: transport, timeout: opts.Timeout, maxBytes: opts.MaxBytes, logger: opts.Logger}
}

func (c *Client) Source() doc.Source { return doc.SourceClient }

func (c *Client) Fetch(ctx context.Context, ref doc.Ref) doc.Outcome {
	if c.transport == nil {
		return doc.Transient("no client transport is connected", 0)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.transport.RequestClientFile(attemptCtx, ref.Locator)
	if err != nil {
		err = classifyClientError(ctx, err)
		c.logger.Debug("client fetch failed",
			zap.String("path", ref.Locator),
			zap.String("category", string(failure.CategoryOf(err))),
			zap.Error(err))
		return doc.OutcomeFromError(err, 1)
	}
	if int64(len(content)) > c.maxBytes {
		return doc.OutcomeFromError(tooLarge(ref.Locator, c.maxBytes), 1)
	}
	return doc.Succeeded(content, 1)
}

func classifyClientError(parent context.Context, err error) error {
	switch {
	case errors.Is(err, ErrClientRefused):
		return failure.Wrap(err, failure.CategoryClientRefused, "client_refused", "", false)
	case errors.Is(err, ErrClientNotFound):
		return failure.Wrap(err, failure.CategoryNotFound, "client_not_found", "", false)
	case failure.CategoryOf(err) != "":
		return err
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return failure.Wrap(fmt.Errorf("client did not answer in time: %w", err),
			failure.CategoryNetworkTransient, "client_timeout", "the client is temporarily unavailable; retry later", true)
	default:
		return failure.Wrap(err, failure.CategoryNetworkTransient, "client_transport", "", true)
	}
}
