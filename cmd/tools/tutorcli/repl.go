package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/model/tutor"
	"github.com/zhouzirui/studypal/backend/internal/render"
	"github.com/zhouzirui/studypal/backend/internal/service/attachment"
	"github.com/zhouzirui/studypal/backend/internal/service/session"
)

const helpText = `命令:
  /image <path>     附加一张图片到下一条消息
  /audio <path>     附加一段录音到下一条消息
  /capture <url>    发送一条 data URL 格式的拍照
  /snap <path>      把一张图片当作拍照发送 (重新编码为 JPEG)
  /ask-other        请另一位老师回答上一个问题
  /provider [name]  查看或切换老师 (ark, openai)
  /history          重新显示整段对话
  /new              清空对话 (需要确认)
  /help             显示本帮助
  /quit             退出`

type repl struct {
	ctrl     *session.Controller
	tutors   tutor.Store
	renderer *render.Renderer
	in       *bufio.Scanner
	out      io.Writer
	pending  []chat.Attachment
}

func newREPL(ctrl *session.Controller, tutors tutor.Store, renderer *render.Renderer, in io.Reader, out io.Writer) *repl {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &repl{ctrl: ctrl, tutors: tutors, renderer: renderer, in: scanner, out: out}
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "正在与 %s 对话，输入 /help 查看命令。\n", tutor.DisplayName(r.tutors, r.ctrl.Provider()))
	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		quit, err := r.handle(ctx, r.in.Text())
		if err != nil {
			fmt.Fprintf(r.out, "错误: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/image", "/audio":
		return false, r.attach(name == "/audio", arg)
	case "/capture":
		_, err := r.ctrl.SendCapture(ctx, arg, r.observe)
		return false, err
	case "/snap":
		return false, r.snap(ctx, arg)
	case "/ask-other":
		fmt.Fprintf(r.out, "正在请教%s...\n", tutor.DisplayName(r.tutors, r.ctrl.OtherProvider()))
		_, err := r.ctrl.AskOther(ctx, r.observe)
		return false, err
	case "/provider":
		if arg != "" {
			r.ctrl.SetProvider(arg)
		}
		fmt.Fprintf(r.out, "当前老师: %s\n", tutor.DisplayName(r.tutors, r.ctrl.Provider()))
	case "/history":
		return false, r.renderer.Transcript(r.out, r.ctrl.Snapshot())
	case "/new":
		if r.ctrl.Clear(r.confirm) {
			r.pending = nil
			fmt.Fprintln(r.out, "已开始新对话。")
		}
	default:
		return false, fmt.Errorf("未知命令 %s，输入 /help 查看命令", name)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	if text == "" && len(r.pending) == 0 {
		return nil
	}
	_, err := r.ctrl.Send(ctx, text, r.pending, "", r.observe)
	if errors.Is(err, session.ErrEmptyMessage) {
		return nil
	}
	if err == nil {
		r.pending = nil
	}
	return err
}

func (r *repl) attach(audio bool, path string) error {
	if path == "" {
		return errors.New("请提供文件路径")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mimeType := ""
	if audio {
		mimeType = audioMime(path)
	}
	att, err := attachment.FromReader(mimeType, f)
	if err != nil {
		return err
	}
	if audio {
		att.Type = chat.AttachmentAudio
		att.PreviewURL = ""
	}
	r.pending = append(r.pending, att)
	fmt.Fprintf(r.out, "已附加 %s (%s)，共 %d 个附件待发送。\n", filepath.Base(path), att.MimeType, len(r.pending))
	return nil
}

func (r *repl) snap(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("请提供图片路径")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	frame, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("无法解析图片 %s: %w", filepath.Base(path), err)
	}
	_, err = r.ctrl.SendFrame(ctx, frame, r.observe)
	return err
}

// observe prints the reply as it grows.
func (r *repl) observe(u session.Update) {
	switch u.State {
	case session.StateAwaitingFirstFragment:
		fmt.Fprintf(r.out, "【%s】\n", tutor.DisplayName(r.tutors, u.Provider))
	case session.StateStreaming:
		fmt.Fprint(r.out, u.Fragment)
	case session.StateFailed:
		fmt.Fprint(r.out, session.InterruptionMarker)
		fmt.Fprint(r.out, "\n\n")
	case session.StateComplete:
		fmt.Fprint(r.out, "\n\n")
	}
}

func (r *repl) confirm() bool {
	fmt.Fprint(r.out, "确定要开始新对话吗？当前记录将被清空。[y/N]: ")
	if !r.in.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.in.Text()), "y")
}

func audioMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return attachment.DefaultRecordingMime
	}
}
