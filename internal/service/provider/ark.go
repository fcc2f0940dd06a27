package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/config"
	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/request"
)

// ArkAdapter streams replies token by token from an eino chat model. The
// request is serialised as turn history, so earlier attachments are resent.
type ArkAdapter struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
	log    logrus.FieldLogger
}

// NewArkAdapterFromConfig builds the Ark chat model from explicit settings.
func NewArkAdapterFromConfig(ctx context.Context, cfg config.ArkConfig, system string, log logrus.FieldLogger) (*ArkAdapter, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewArkAdapter(ctx, chatModel, system, log)
}

// NewArkAdapter wires the system template and chat model into one chain.
func NewArkAdapter(ctx context.Context, chatModel model.ChatModel, system string, log logrus.FieldLogger) (*ArkAdapter, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("contents", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ArkAdapter{chain: runnable, system: system, log: log}, nil
}

// Name implements Adapter.
func (a *ArkAdapter) Name() string {
	return config.ProviderArk
}

// Open starts a streaming completion.
func (a *ArkAdapter) Open(ctx context.Context, req chat.Request) (*channel.Reader, error) {
	contents := request.BuildTurnHistory(req.History, req.NewText, req.NewAttachments)
	if len(contents) == 0 {
		return nil, ErrEmptyRequest
	}

	stream, err := a.chain.Stream(ctx, map[string]any{
		"system":   a.system,
		"contents": toSchemaMessages(contents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream ark chain output: %w", err)
	}

	a.log.WithFields(logrus.Fields{"provider": a.Name(), "contents": len(contents)}).Debug("ark stream opened")
	return channel.FromMessageStream(stream), nil
}

// toSchemaMessages maps turn-history entries onto eino messages. Plain text
// entries stay plain; entries with inline data become multi-part messages.
// Ark accepts only text and image_url parts, so images travel as data URLs
// and any other inline data is downgraded to a text attachment marker.
func toSchemaMessages(contents []request.Content) []*schema.Message {
	messages := make([]*schema.Message, 0, len(contents))
	for _, content := range contents {
		role := schema.User
		if content.Role == request.RoleModel {
			role = schema.Assistant
		}

		if len(content.Parts) == 1 && content.Parts[0].InlineData == nil {
			messages = append(messages, &schema.Message{Role: role, Content: content.Parts[0].Text})
			continue
		}

		parts := make([]schema.ChatMessagePart, 0, len(content.Parts))
		for _, part := range content.Parts {
			if part.InlineData == nil {
				parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: part.Text})
				continue
			}
			if chat.TypeForMime(part.InlineData.MimeType) != chat.AttachmentImage {
				marker := request.AttachmentMarker(chat.WireAttachment{MimeType: part.InlineData.MimeType, Data: part.InlineData.Data})
				parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: strings.TrimSpace(marker)})
				continue
			}
			url := chat.Attachment{MimeType: part.InlineData.MimeType, Data: part.InlineData.Data}.DataURL()
			parts = append(parts, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: url, MIMEType: part.InlineData.MimeType},
			})
		}
		messages = append(messages, &schema.Message{Role: role, MultiContent: parts})
	}
	return messages
}
