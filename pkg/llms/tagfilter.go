package llms

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

const (
	toolCallStartTag = "<tool_call>"
	toolCallEndTag   = "</tool_call>"
)

type tagFilterState int

const (
	tagFilterNormal tagFilterState = iota
	tagFilterCollectingStartTag
	tagFilterInToolCall
	tagFilterCollectingEndTag
)

// TagFilter strips inline <tool_call>{...}</tool_call> spans from streamed
// text and synthesizes equivalent tool calls, so deployments that embed tool
// calls in prose look the same downstream as ones with native deltas.
//
// It is a character-level state machine because tag boundaries can fall
// anywhere across chunk boundaries.
type TagFilter struct {
	state tagFilterState
	buf   strings.Builder
	body  strings.Builder
	newID func() string
}

func NewTagFilter() *TagFilter {
	return &TagFilter{newID: newCallID}
}

func newCallID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "call_" + hex.EncodeToString(b)
}

// ProcessChunk consumes one chunk of streamed text and returns the cleaned
// text plus any tool calls whose closing tag completed within this chunk.
func (f *TagFilter) ProcessChunk(chunk string) (string, []protocol.ToolCall) {
	var out strings.Builder
	var calls []protocol.ToolCall

	for _, r := range chunk {
		switch f.state {
		case tagFilterNormal:
			if r == '<' {
				f.state = tagFilterCollectingStartTag
				f.buf.Reset()
				f.buf.WriteRune(r)
			} else {
				out.WriteRune(r)
			}

		case tagFilterCollectingStartTag:
			f.buf.WriteRune(r)
			collected := f.buf.String()
			if collected == toolCallStartTag {
				f.state = tagFilterInToolCall
				f.buf.Reset()
				f.body.Reset()
			} else if !strings.HasPrefix(toolCallStartTag, collected) {
				// Not a tool-call tag after all; release it as literal text.
				out.WriteString(collected)
				f.buf.Reset()
				f.state = tagFilterNormal
			}

		case tagFilterInToolCall:
			if r == '<' {
				f.state = tagFilterCollectingEndTag
				f.buf.Reset()
				f.buf.WriteRune(r)
			} else {
				f.body.WriteRune(r)
			}

		case tagFilterCollectingEndTag:
			f.buf.WriteRune(r)
			collected := f.buf.String()
			if collected == toolCallEndTag {
				if call, ok := f.parseBody(); ok {
					calls = append(calls, call)
				}
				f.buf.Reset()
				f.body.Reset()
				f.state = tagFilterNormal
			} else if !strings.HasPrefix(toolCallEndTag, collected) {
				// False end tag; the buffered characters belong to the body.
				f.body.WriteString(collected)
				f.buf.Reset()
				f.state = tagFilterInToolCall
			}
		}
	}

	return out.String(), calls
}

// Finalize flushes the filter at end of stream. A partial start tag is
// returned as literal text; an unterminated tool-call body is dropped.
func (f *TagFilter) Finalize() string {
	defer func() {
		f.state = tagFilterNormal
		f.buf.Reset()
		f.body.Reset()
	}()

	if f.state == tagFilterCollectingStartTag {
		return f.buf.String()
	}
	return ""
}

func (f *TagFilter) parseBody() (protocol.ToolCall, bool) {
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(f.body.String()), &payload); err != nil || payload.Name == "" {
		return protocol.ToolCall{}, false
	}

	args := "{}"
	if len(payload.Arguments) > 0 {
		args = string(payload.Arguments)
	}

	return protocol.ToolCall{
		ID:   f.newID(),
		Type: "function",
		Function: protocol.FunctionCall{
			Name:      payload.Name,
			Arguments: args,
		},
	}, true
}
