// Package request serialises transcript history plus a new user turn into the
// two upstream request shapes: a turn-history content list and a flat
// role/content message list.
package request

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
)

// Upstream role names.
const (
	RoleUser      = "user"
	RoleModel     = "model"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// InlineData is an attachment inlined into a content part.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one element of a turn-history entry: either inline data or text.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Content is one turn-history entry.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// FlatMessage is one entry of a flat role/content message list.
type FlatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildTurnHistory maps history and the new user turn onto role/parts
// entries. Attachments precede text within an entry, and entries without any
// parts are omitted.
func BuildTurnHistory(history []chat.WireTurn, newText string, newAttachments []chat.WireAttachment) []Content {
	contents := make([]Content, 0, len(history)+1)
	for _, turn := range history {
		role := RoleUser
		if turn.Role == chat.RoleModel {
			role = RoleModel
		}
		if parts := buildParts(turn.Text, turn.Attachments); len(parts) > 0 {
			contents = append(contents, Content{Role: role, Parts: parts})
		}
	}

	if parts := buildParts(newText, newAttachments); len(parts) > 0 {
		contents = append(contents, Content{Role: RoleUser, Parts: parts})
	}
	return contents
}

func buildParts(text string, attachments []chat.WireAttachment) []Part {
	parts := make([]Part, 0, len(attachments)+1)
	for _, att := range attachments {
		if att.MimeType == "" || att.Data == "" {
			continue
		}
		parts = append(parts, Part{InlineData: &InlineData{MimeType: att.MimeType, Data: att.Data}})
	}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, Part{Text: text})
	}
	return parts
}

// BuildFlatMessages produces a system entry followed by one text-only entry
// per history turn. Only the new turn's attachments survive, appended to its
// text as inline markers.
func BuildFlatMessages(system string, history []chat.WireTurn, newText string, newAttachments []chat.WireAttachment) []FlatMessage {
	messages := make([]FlatMessage, 0, len(history)+2)
	messages = append(messages, FlatMessage{Role: RoleSystem, Content: system})

	for _, turn := range history {
		role := RoleUser
		if turn.Role == chat.RoleModel {
			role = RoleAssistant
		}
		messages = append(messages, FlatMessage{Role: role, Content: turn.Text})
	}

	if content := flatContent(newText, newAttachments); strings.TrimSpace(content) != "" {
		messages = append(messages, FlatMessage{Role: RoleUser, Content: content})
	}
	return messages
}

func flatContent(text string, attachments []chat.WireAttachment) string {
	var b strings.Builder
	b.WriteString(text)
	for _, att := range attachments {
		if att.MimeType == "" || att.Data == "" {
			continue
		}
		b.WriteString(AttachmentMarker(att))
	}
	return b.String()
}

// AttachmentMarker renders the inline marker for one attachment.
func AttachmentMarker(att chat.WireAttachment) string {
	return fmt.Sprintf("\n\n[Attachment: data:%s;base64,%s]", att.MimeType, att.Data)
}
