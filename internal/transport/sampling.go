// Package transport carries client document requests to the connected agent.
//
// MCP has no "read a file on the client" primitive, so the request travels
// as a sampling round-trip: the server asks the client to produce a message
// whose text is the file content. The agent answers with the raw content,
// or with one of the sentinel replies below when it cannot or will not.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/docket/internal/fetch"
)

// Sentinel replies an agent sends instead of file content.
const (
	ReplyNotFound = "DOCKET_NOT_FOUND"
	ReplyRefused  = "DOCKET_REFUSED"
)

// DefaultMaxTokens caps the sampled reply.
const DefaultMaxTokens = 32000

// Sampler sends one sampling request to a client. mcp-go client sessions
// that support sampling satisfy it.
type Sampler interface {
	RequestSampling(ctx context.Context, req mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
}

// SamplingOptions configure a Sampling transport.
type SamplingOptions struct {
	MaxTokens int
	Logger    *zap.Logger
}

// Sampling implements fetch.ClientTransport over MCP sampling.
type Sampling struct {
	sampler   Sampler
	maxTokens int
	logger    *zap.Logger
}

var _ fetch.ClientTransport = (*Sampling)(nil)

func NewSampling(sampler Sampler, opts SamplingOptions) *Sampling {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sampling{sampler: sampler, maxTokens: opts.MaxTokens, logger: opts.Logger}
}

// RequestClientFile asks the agent for the file at path.
func (s *Sampling) RequestClientFile(ctx context.Context, path string) ([]byte, error) {
	if s.sampler == nil {
		return nil, fmt.Errorf("sampling %s: %w", path, fetch.ErrClientRefused)
	}

	req := mcp.CreateMessageRequest{
		CreateMessageParams: mcp.CreateMessageParams{
			Messages: []mcp.SamplingMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent(requestText(path))},
			},
			SystemPrompt: systemPrompt,
			MaxTokens:    s.maxTokens,
		},
	}

	res, err := s.sampler.RequestSampling(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", path, err)
	}
	if res == nil {
		return nil, fmt.Errorf("sampling %s: empty reply", path)
	}

	text, ok := textOf(res.Content)
	if !ok {
		s.logger.Debug("non-text sampling reply", zap.String("path", path), zap.String("model", res.Model))
		return nil, fmt.Errorf("sampling %s: reply is not text: %w", path, fetch.ErrClientRefused)
	}
	switch strings.TrimSpace(text) {
	case ReplyNotFound:
		return nil, fmt.Errorf("sampling %s: %w", path, fetch.ErrClientNotFound)
	case ReplyRefused:
		return nil, fmt.Errorf("sampling %s: %w", path, fetch.ErrClientRefused)
	}
	return []byte(text), nil
}

const systemPrompt = "You are a file reader. Reply with the exact, unmodified content of the requested file and nothing else. " +
	"If the file does not exist reply with " + ReplyNotFound + ". If you will not share it reply with " + ReplyRefused + "."

func requestText(path string) string {
	return "Read this file and return its content verbatim:\n" + path
}

// textOf extracts the text of a sampled reply. Depending on the transport
// the content arrives typed or as a decoded JSON object.
func textOf(content any) (string, bool) {
	switch c := content.(type) {
	case mcp.TextContent:
		return c.Text, true
	case *mcp.TextContent:
		if c == nil {
			return "", false
		}
		return c.Text, true
	case map[string]any:
		if t, _ := c["type"].(string); t != "text" {
			return "", false
		}
		text, ok := c["text"].(string)
		return text, ok
	case string:
		return c, true
	default:
		return "", false
	}
}
