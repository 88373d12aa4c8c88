package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"sibyl/app/config"
	"sibyl/app/service/agent"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

// Client speaks the OpenAI-compatible chat API exposed by Ollama and most
// local model servers.
type Client struct {
	api   *openai.Client
	model string
}

var _ agent.Backend = (*Client)(nil)

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	clientConfig := openai.DefaultConfig(cfg.Model.Token)
	clientConfig.BaseURL = cfg.Model.BaseURL
	// No request timeout: streams stay open as long as generation runs;
	// cancellation happens through the context.
	clientConfig.HTTPClient = &http.Client{}

	return &Client{
		api:   openai.NewClientWithConfig(clientConfig),
		model: cfg.Model.Name,
	}, nil
}

func (c *Client) StreamChat(ctx context.Context, messages []agent.Message) (agent.Stream, error) {
	request := openai.ChatCompletionRequest{
		Model:    c.model,
		Stream:   true,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}

	for _, msg := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	inner, err := c.api.CreateChatCompletionStream(ctx, request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("failed to create chat stream: %w", err)
	}

	return &chatStream{inner: inner}, nil
}

type chatStream struct {
	inner *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (agent.Chunk, error) {
	response, err := s.inner.Recv()
	if errors.Is(err, io.EOF) {
		return agent.Chunk{Done: true}, io.EOF
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return agent.Chunk{}, context.Canceled
		}
		return agent.Chunk{}, fmt.Errorf("chat stream recv: %w", err)
	}

	if len(response.Choices) == 0 {
		return agent.Chunk{}, nil
	}

	return agent.Chunk{Content: response.Choices[0].Delta.Content}, nil
}

func (s *chatStream) Close() {
	_ = s.inner.Close()
}
