package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/config"
	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/request"
)

// CompletionClient captures the subset of the openai-go client used by the
// adapter.
type CompletionClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOptions configures the buffered OpenAI-compatible adapter.
type OpenAIOptions struct {
	Client CompletionClient
	Model  string
	System string
	Logger logrus.FieldLogger
}

// OpenAIAdapter sends a flat message list to a Chat Completions endpoint and
// returns the whole reply as a single fragment.
type OpenAIAdapter struct {
	client CompletionClient
	model  string
	system string
	log    logrus.FieldLogger
}

// NewOpenAIAdapter builds the adapter from the provided options.
func NewOpenAIAdapter(opts OpenAIOptions) (*OpenAIAdapter, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai model is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OpenAIAdapter{client: opts.Client, model: opts.Model, system: opts.System, log: log}, nil
}

// NewOpenAIAdapterFromConfig constructs a client from explicit settings. The
// client never retries: each send is a single attempt.
func NewOpenAIAdapterFromConfig(cfg config.OpenAIConfig, system string, log logrus.FieldLogger) (*OpenAIAdapter, error) {
	if !cfg.Enabled() {
		return nil, errors.New("OpenAI API key not configured")
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(cfg.HTTPClient()),
		option.WithMaxRetries(0),
	)
	return NewOpenAIAdapter(OpenAIOptions{
		Client: &client.Chat.Completions,
		Model:  cfg.Model,
		System: system,
		Logger: log,
	})
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string {
	return config.ProviderOpenAI
}

// Open issues the completion lazily on the returned channel.
func (a *OpenAIAdapter) Open(ctx context.Context, req chat.Request) (*channel.Reader, error) {
	flat := request.BuildFlatMessages(a.system, req.History, req.NewText, req.NewAttachments)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: toCompletionMessages(flat),
	}

	return channel.Buffered(ctx, func(ctx context.Context) (string, error) {
		resp, err := a.client.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai chat completion: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			a.log.WithField("provider", a.Name()).Warn("completion returned no choices")
			return "", nil
		}
		a.log.WithFields(logrus.Fields{"provider": a.Name(), "length": len(resp.Choices[0].Message.Content)}).Debug("completion received")
		return resp.Choices[0].Message.Content, nil
	}), nil
}

func toCompletionMessages(flat []request.FlatMessage) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(flat))
	for _, m := range flat {
		switch m.Role {
		case request.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case request.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
