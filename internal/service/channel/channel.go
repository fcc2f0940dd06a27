// Package channel normalises provider replies into one ordered, finite
// sequence of text fragments. A channel is an eino StreamReader: Recv yields
// the next fragment, io.EOF at the end, or a terminal error.
package channel

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Reader is the fragment sequence consumed by the reconciler.
type Reader = schema.StreamReader[string]

// FromMessageStream maps each upstream chunk onto exactly one fragment, in
// arrival order. Chunks without content are skipped.
func FromMessageStream(sr *schema.StreamReader[*schema.Message]) *Reader {
	return schema.StreamReaderWithConvert(sr, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	})
}

// Buffered wraps a single-shot call. The sequence holds at most one fragment:
// nothing for an empty reply, the whole reply otherwise.
func Buffered(ctx context.Context, fetch func(context.Context) (string, error)) *Reader {
	sr, sw := schema.Pipe[string](1)
	go func() {
		defer sw.Close()
		text, err := fetch(ctx)
		if err != nil {
			sw.Send("", err)
			return
		}
		if text != "" {
			sw.Send(text, nil)
		}
	}()
	return sr
}

// FromFragments replays a fixed fragment list.
func FromFragments(fragments ...string) *Reader {
	return schema.StreamReaderFromArray(fragments)
}

// Collect drains the reader and returns the concatenated text. On failure it
// returns what arrived before the error together with the error.
func Collect(r *Reader) (string, error) {
	defer r.Close()

	var b strings.Builder
	for {
		fragment, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
}
