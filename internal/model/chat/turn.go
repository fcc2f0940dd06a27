package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// AttachmentType is the coarse kind used to pick a rendering.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
)

// TypeForMime maps a MIME type onto an attachment kind: image/* is an image,
// everything else is treated as audio.
func TypeForMime(mimeType string) AttachmentType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return AttachmentImage
	}
	return AttachmentAudio
}

// Attachment is a non-text payload carried by a turn.
type Attachment struct {
	MimeType   string         `json:"mimeType"`
	Data       string         `json:"data"`
	Type       AttachmentType `json:"type"`
	PreviewURL string         `json:"previewUrl,omitempty"`
}

// DataURL renders the attachment as a data URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MimeType + ";base64," + a.Data
}

// Turn is one message in a conversation.
type Turn struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewTurn creates a turn with a fresh identifier. The attachments slice is
// copied so later changes by the caller never leak into the transcript.
func NewTurn(role Role, text string, attachments []Attachment) Turn {
	var atts []Attachment
	if len(attachments) > 0 {
		atts = append([]Attachment(nil), attachments...)
	}
	return Turn{
		ID:          uuid.NewString(),
		Role:        role,
		Text:        text,
		Attachments: atts,
		Timestamp:   time.Now().UTC(),
	}
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	if len(t.Attachments) > 0 {
		t.Attachments = append([]Attachment(nil), t.Attachments...)
	}
	return t
}
