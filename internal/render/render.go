// Package render prints a session transcript to a terminal. Markdown is
// reduced to a few ANSI styles; math spans are kept as source.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/session"
)

var (
	ErrUnclosedFence  = errors.New("unclosed code fence")
	ErrUnbalancedMath = errors.New("unbalanced math delimiter")
)

// LoadingIndicator is printed below the transcript while a cycle runs.
const LoadingIndicator = "老师正在思考..."

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiCyan  = "\x1b[36m"
)

// Renderer formats turns. The zero value renders without color.
type Renderer struct {
	Color      bool
	UserLabel  string
	ModelLabel string
	Log        logrus.FieldLogger
}

// New returns a renderer with default labels.
func New(color bool, log logrus.FieldLogger) *Renderer {
	return &Renderer{Color: color, UserLabel: "你", ModelLabel: "老师", Log: log}
}

// Transcript writes every turn of view followed by the loading indicator
// when a cycle is in flight. A turn that cannot be formatted is written
// verbatim; the others are unaffected.
func (r *Renderer) Transcript(w io.Writer, view session.View) error {
	for _, turn := range view.Turns {
		if err := r.Turn(w, turn); err != nil {
			return err
		}
	}
	if view.IsLoading {
		_, err := fmt.Fprintln(w, r.style(ansiDim, LoadingIndicator))
		return err
	}
	return nil
}

// Turn writes one turn. Only write errors are returned.
func (r *Renderer) Turn(w io.Writer, turn chat.Turn) error {
	var b strings.Builder
	b.WriteString(r.header(turn))
	b.WriteByte('\n')
	for _, att := range turn.Attachments {
		fmt.Fprintf(&b, "  %s\n", r.style(ansiDim, badge(att)))
	}

	body, err := r.safeFormat(turn.Text)
	if err != nil {
		r.logger().WithError(err).WithField("turn", turn.ID).Warn("render fallback to raw text")
		body = turn.Text
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err = io.WriteString(w, b.String())
	return err
}

func (r *Renderer) safeFormat(text string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()
	return r.Format(text)
}

// Format converts a Markdown subset to terminal text. It fails on an
// unclosed fence or unbalanced math delimiters.
func (r *Renderer) Format(text string) (string, error) {
	if err := validate(text); err != nil {
		return "", err
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			out = append(out, r.style(ansiDim, "  ────"))
			continue
		}
		if inFence {
			out = append(out, "  "+line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "#"):
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			out = append(out, r.style(ansiBold, heading))
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			out = append(out, "  • "+r.inline(trimmed[2:]))
		default:
			out = append(out, r.inline(line))
		}
	}
	return strings.Join(out, "\n"), nil
}

// inline handles **bold** and `code`.
func (r *Renderer) inline(line string) string {
	line = r.toggle(line, "**", ansiBold)
	return r.toggle(line, "`", ansiCyan)
}

func (r *Renderer) toggle(line, delim, code string) string {
	parts := strings.Split(line, delim)
	if len(parts) < 3 || len(parts)%2 == 0 {
		return line
	}
	var b strings.Builder
	for i, part := range parts {
		if i%2 == 1 {
			b.WriteString(r.style(code, part))
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}

func (r *Renderer) header(turn chat.Turn) string {
	label := r.UserLabel
	if turn.Role == chat.RoleModel {
		label = r.ModelLabel
	}
	return r.style(ansiBold, "【"+label+"】")
}

func (r *Renderer) style(code, s string) string {
	if !r.Color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func (r *Renderer) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func badge(att chat.Attachment) string {
	switch att.Type {
	case chat.AttachmentImage:
		return "[图片 " + att.MimeType + "]"
	case chat.AttachmentAudio:
		return "[录音 " + att.MimeType + "]"
	default:
		return "[附件 " + att.MimeType + "]"
	}
}

// validate checks fences and math outside of fenced blocks. An escaped
// "\$" is literal.
func validate(text string) error {
	inFence := false
	var prose strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			prose.WriteString(line)
			prose.WriteByte('\n')
		}
	}
	if inFence {
		return ErrUnclosedFence
	}

	s := strings.ReplaceAll(prose.String(), `\$`, "")
	display := strings.Count(s, "$$")
	if display%2 != 0 {
		return fmt.Errorf("%w: $$", ErrUnbalancedMath)
	}
	if single := strings.Count(strings.ReplaceAll(s, "$$", ""), "$"); single%2 != 0 {
		return fmt.Errorf("%w: $", ErrUnbalancedMath)
	}
	return nil
}
