package chat

// WireAttachment is the transport form of an attachment: just enough to be
// inlined into an upstream request.
type WireAttachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// WireTurn is one history entry as posted by a client.
type WireTurn struct {
	Role        Role             `json:"role"`
	Text        string           `json:"text"`
	Attachments []WireAttachment `json:"attachments,omitempty"`
}

// Request is the provider-agnostic shape handed to a provider adapter.
type Request struct {
	History        []WireTurn       `json:"history"`
	NewText        string           `json:"newText"`
	NewAttachments []WireAttachment `json:"newAttachments"`
	Provider       string           `json:"provider,omitempty"`
}

// Wire strips an attachment down to its transport form.
func (a Attachment) Wire() WireAttachment {
	return WireAttachment{MimeType: a.MimeType, Data: a.Data}
}

// NewRequest assembles a request from transcript history and a new user turn.
func NewRequest(history []Turn, text string, attachments []Attachment, provider string) Request {
	req := Request{
		History:        make([]WireTurn, 0, len(history)),
		NewText:        text,
		NewAttachments: WireAttachments(attachments),
		Provider:       provider,
	}
	for _, turn := range history {
		req.History = append(req.History, WireTurn{
			Role:        turn.Role,
			Text:        turn.Text,
			Attachments: WireAttachments(turn.Attachments),
		})
	}
	return req
}

// WireAttachments converts attachments to their transport form.
func WireAttachments(attachments []Attachment) []WireAttachment {
	out := make([]WireAttachment, 0, len(attachments))
	for _, att := range attachments {
		out = append(out, att.Wire())
	}
	return out
}
