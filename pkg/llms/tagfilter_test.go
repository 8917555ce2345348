package llms

import (
	"strings"
	"testing"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

func newTestFilter() *TagFilter {
	f := NewTagFilter()
	n := 0
	f.newID = func() string {
		n++
		return "call_test0000"
	}
	return f
}

// runFilter feeds the input in chunks of the given size and returns the
// concatenated cleaned output plus all synthesized calls.
func runFilter(input string, chunkSize int) (string, []protocol.ToolCall) {
	f := newTestFilter()
	var out strings.Builder
	var calls []protocol.ToolCall

	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		text, synthesized := f.ProcessChunk(input[i:end])
		out.WriteString(text)
		calls = append(calls, synthesized...)
	}
	out.WriteString(f.Finalize())
	return out.String(), calls
}

func TestTagFilterPassThrough(t *testing.T) {
	text, calls := runFilter("plain text with no tags at all", 5)
	if text != "plain text with no tags at all" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %d, want 0", len(calls))
	}
}

func TestTagFilterExtractsToolCall(t *testing.T) {
	input := `Let me check <tool_call>{"name":"search_prefabs","arguments":{"query":"pdf"}}</tool_call> the catalogue.`

	// The result must be identical no matter where chunk boundaries fall.
	for _, size := range []int{1, 3, 7, len(input)} {
		text, calls := runFilter(input, size)
		if text != "Let me check  the catalogue." {
			t.Errorf("chunk size %d: text = %q", size, text)
		}
		if len(calls) != 1 {
			t.Fatalf("chunk size %d: calls = %d, want 1", size, len(calls))
		}
		call := calls[0]
		if call.Function.Name != "search_prefabs" {
			t.Errorf("chunk size %d: name = %q", size, call.Function.Name)
		}
		if call.Function.Arguments != `{"query":"pdf"}` {
			t.Errorf("chunk size %d: arguments = %q", size, call.Function.Arguments)
		}
		if !strings.HasPrefix(call.ID, "call_") {
			t.Errorf("chunk size %d: id = %q, want call_ prefix", size, call.ID)
		}
		if call.Type != "function" {
			t.Errorf("chunk size %d: type = %q", size, call.Type)
		}
	}
}

func TestTagFilterMultipleCalls(t *testing.T) {
	input := `a<tool_call>{"name":"x","arguments":{}}</tool_call>b<tool_call>{"name":"y","arguments":{}}</tool_call>c`
	text, calls := runFilter(input, 4)
	if text != "abc" {
		t.Errorf("text = %q, want abc", text)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Function.Name != "x" || calls[1].Function.Name != "y" {
		t.Errorf("call names = %q, %q", calls[0].Function.Name, calls[1].Function.Name)
	}
}

func TestTagFilterFalseStartTag(t *testing.T) {
	// Angle brackets that are not tool-call tags pass through unchanged.
	for _, input := range []string{
		"a < b and b > a",
		"generic type List<string> here",
		"<tool_cow>moo</tool_cow>",
	} {
		text, calls := runFilter(input, 2)
		if text != input {
			t.Errorf("input %q: text = %q", input, text)
		}
		if len(calls) != 0 {
			t.Errorf("input %q: unexpected calls", input)
		}
	}
}

func TestTagFilterFalseEndTagStaysInBody(t *testing.T) {
	// A '<' inside the body that does not open the end tag belongs to the
	// body and must not corrupt the JSON parse.
	input := `<tool_call>{"name":"x","arguments":{"q":"a<b"}}</tool_call>done`
	text, calls := runFilter(input, 3)
	if text != "done" {
		t.Errorf("text = %q, want done", text)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Function.Arguments != `{"q":"a<b"}` {
		t.Errorf("arguments = %q", calls[0].Function.Arguments)
	}
}

func TestTagFilterPartialStartTagFlushedAtEOF(t *testing.T) {
	text, calls := runFilter("trailing <tool_ca", 4)
	if text != "trailing <tool_ca" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected calls")
	}
}

func TestTagFilterUnterminatedCallDroppedAtEOF(t *testing.T) {
	text, calls := runFilter(`before <tool_call>{"name":"x","argu`, 6)
	if text != "before " {
		t.Errorf("text = %q, want %q", text, "before ")
	}
	if len(calls) != 0 {
		t.Errorf("unexpected calls")
	}
}

func TestTagFilterMalformedJSONDropped(t *testing.T) {
	text, calls := runFilter(`a<tool_call>not json</tool_call>b`, 5)
	if text != "ab" {
		t.Errorf("text = %q, want ab", text)
	}
	if len(calls) != 0 {
		t.Errorf("malformed body must not synthesize a call")
	}
}

func TestTagFilterMissingNameDropped(t *testing.T) {
	text, calls := runFilter(`<tool_call>{"arguments":{}}</tool_call>`, 100)
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if len(calls) != 0 {
		t.Errorf("a call without a name must be dropped")
	}
}

func TestTagFilterReusableAfterFinalize(t *testing.T) {
	f := newTestFilter()
	f.ProcessChunk("partial <tool_call>{")
	f.Finalize()

	text, calls := f.ProcessChunk("fresh text")
	text += f.Finalize()
	if text != "fresh text" {
		t.Errorf("text = %q after reset", text)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected calls after reset")
	}
}
