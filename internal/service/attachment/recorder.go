package attachment

import (
	"bytes"
	"errors"
	"sync"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
)

// DefaultRecordingMime is used when a recording starts without a MIME type.
const DefaultRecordingMime = "audio/webm"

var (
	ErrNotRecording     = errors.New("recorder is not recording")
	ErrAlreadyRecording = errors.New("recorder is already recording")
)

// Recorder accumulates microphone chunks between a Start/Stop gesture pair.
type Recorder struct {
	mu        sync.Mutex
	recording bool
	mimeType  string
	buf       bytes.Buffer
}

// Start begins a new recording.
func (r *Recorder) Start(mimeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if mimeType == "" {
		mimeType = DefaultRecordingMime
	}
	r.recording = true
	r.mimeType = mimeType
	r.buf.Reset()
	return nil
}

// Write appends one raw recorder chunk.
func (r *Recorder) Write(chunk []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return 0, ErrNotRecording
	}
	return r.buf.Write(chunk)
}

// Recording reports whether a gesture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop ends the recording and yields the concatenated clip as one attachment.
// The recorder is reset whether or not encoding succeeds.
func (r *Recorder) Stop() (chat.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return chat.Attachment{}, ErrNotRecording
	}
	raw := append([]byte(nil), r.buf.Bytes()...)
	mimeType := r.mimeType
	r.resetLocked()

	att, err := FromBytes(mimeType, raw)
	if err != nil {
		return chat.Attachment{}, err
	}
	att.Type = chat.AttachmentAudio
	att.PreviewURL = ""
	return att, nil
}

// Reset drops any in-progress recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Recorder) resetLocked() {
	r.recording = false
	r.mimeType = ""
	r.buf.Reset()
}
