// Package attachment turns captured or uploaded media into transcript
// attachments: a MIME type, a base64 payload and, for images, a preview URL.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
)

// FrameQuality is the JPEG quality used for camera stills.
const FrameQuality = 80

var (
	ErrMalformedDataURL = errors.New("malformed data url")
	ErrEmptyPayload     = errors.New("attachment payload is empty")
)

var dataURLPattern = regexp.MustCompile(`^data:(.+);base64,(.+)$`)

// FromBytes encodes raw bytes into an attachment.
func FromBytes(mimeType string, raw []byte) (chat.Attachment, error) {
	if len(raw) == 0 {
		return chat.Attachment{}, ErrEmptyPayload
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
		// DetectContentType may append parameters such as "; charset=utf-8".
		if idx := strings.Index(mimeType, ";"); idx >= 0 {
			mimeType = mimeType[:idx]
		}
	}
	return fromEncoded(mimeType, base64.StdEncoding.EncodeToString(raw)), nil
}

// FromReader reads a picked file fully into memory and encodes it.
func FromReader(mimeType string, r io.Reader) (chat.Attachment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	return FromBytes(mimeType, raw)
}

// FromFrame encodes a camera still as JPEG at its native resolution.
func FromFrame(frame image.Image) (chat.Attachment, error) {
	if frame == nil || frame.Bounds().Empty() {
		return chat.Attachment{}, ErrEmptyPayload
	}

	canvas := image.NewRGBA(image.Rect(0, 0, frame.Bounds().Dx(), frame.Bounds().Dy()))
	for y := 0; y < canvas.Bounds().Dy(); y++ {
		for x := 0; x < canvas.Bounds().Dx(); x++ {
			canvas.Set(x, y, frame.At(frame.Bounds().Min.X+x, frame.Bounds().Min.Y+y))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: FrameQuality}); err != nil {
		return chat.Attachment{}, fmt.Errorf("encode frame: %w", err)
	}
	return FromBytes("image/jpeg", buf.Bytes())
}

// FromDataURL parses a "data:<mime>;base64,<data>" capture.
func FromDataURL(dataURL string) (chat.Attachment, error) {
	matches := dataURLPattern.FindStringSubmatch(strings.TrimSpace(dataURL))
	if len(matches) != 3 {
		return chat.Attachment{}, ErrMalformedDataURL
	}
	if _, err := base64.StdEncoding.DecodeString(matches[2]); err != nil {
		return chat.Attachment{}, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return fromEncoded(matches[1], matches[2]), nil
}

// FromWire rebuilds an attachment posted by a client. The payload must be
// non-empty base64 and the MIME type must be present.
func FromWire(w chat.WireAttachment) (chat.Attachment, error) {
	mimeType := strings.TrimSpace(w.MimeType)
	if mimeType == "" || w.Data == "" {
		return chat.Attachment{}, ErrEmptyPayload
	}
	if _, err := base64.StdEncoding.DecodeString(w.Data); err != nil {
		return chat.Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	return fromEncoded(mimeType, w.Data), nil
}

// Decode returns the raw bytes of an attachment.
func Decode(att chat.Attachment) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return raw, nil
}

func fromEncoded(mimeType, data string) chat.Attachment {
	att := chat.Attachment{
		MimeType: mimeType,
		Data:     data,
		Type:     chat.TypeForMime(mimeType),
	}
	// Audio needs no visual preview.
	if att.Type == chat.AttachmentImage {
		att.PreviewURL = att.DataURL()
	}
	return att
}
