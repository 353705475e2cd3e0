// Package sse writes and incrementally decodes the server-sent-event frames
// relayed by the chat endpoint. Every stream, whatever the upstream provider,
// carries OpenAI-shaped delta frames ending in "data: [DONE]".
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const (
	dataPrefix = "data: "
	doneToken  = "[DONE]"
)

// WriteDelta writes one delta frame carrying text.
func WriteDelta(w io.Writer, text string) error {
	frame := openai.ChatCompletionStreamResponse{
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}},
		},
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode delta: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n\n", dataPrefix, payload)
	return err
}

// WriteDone writes the terminating frame.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, dataPrefix+doneToken+"\n\n")
	return err
}

// deltaFrame is the only part of a frame the decoder looks at.
type deltaFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder reassembles frames split across arbitrary chunk boundaries.
// It is not safe for concurrent use.
type Decoder struct {
	buf  []byte
	done bool
	log  *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{log: logger}
}

// Done reports whether the [DONE] frame has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends chunk to the buffer and returns the deltas of every complete
// frame, in stream order. A frame whose JSON does not parse is put back in
// front of the buffer and decoding waits for more bytes.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var deltas []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		rest := d.buf[i+1:]

		payload, ok := framePayload(line)
		if !ok {
			d.buf = rest
			continue
		}
		if string(payload) == doneToken {
			d.done = true
			d.buf = nil
			break
		}

		var frame deltaFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			pending := make([]byte, 0, len(line)+1+len(rest))
			pending = append(pending, line...)
			pending = append(pending, '\n')
			pending = append(pending, rest...)
			d.buf = pending
			break
		}
		d.buf = rest
		if text := frame.content(); text != "" {
			deltas = append(deltas, text)
		}
	}
	return deltas
}

// Flush makes a final pass over whatever is still buffered once the
// transport has ended. Frames that still fail to parse are dropped.
func (d *Decoder) Flush() []string {
	if d.done || len(bytes.TrimSpace(d.buf)) == 0 {
		d.buf = nil
		return nil
	}

	var deltas []string
	for _, line := range bytes.Split(d.buf, []byte("\n")) {
		payload, ok := framePayload(line)
		if !ok {
			continue
		}
		if string(payload) == doneToken {
			d.done = true
			break
		}
		var frame deltaFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			d.log.Debug("dropping undecodable stream frame", "error", err, "bytes", len(payload))
			continue
		}
		if text := frame.content(); text != "" {
			deltas = append(deltas, text)
		}
	}
	d.buf = nil
	return deltas
}

// framePayload returns the trimmed payload of a data line. Blank lines,
// comments and other fields report false.
func framePayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
		return nil, false
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(dataPrefix):]), true
}

func (f deltaFrame) content() string {
	if len(f.Choices) == 0 {
		return ""
	}
	return f.Choices[0].Delta.Content
}
