package session

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// Per-message framing overhead and reply priming, after the OpenAI token
// counting cookbook.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

func encodingForModel(model string) *tiktoken.Tiktoken {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return cached
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Token encoding unavailable, falling back to estimation", "model", model, "error", err)
			return nil
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()
	return encoding
}

// Compressor trims dialogue history to a token budget. Messages are dropped
// oldest first, but never individually: an assistant message travels with the
// tool messages answering its calls, so the pairing invariant survives.
type Compressor struct {
	maxTokens int
	count     func(protocol.Message) int
}

// NewCompressor builds a compressor for the given model's encoding. When the
// encoding cannot be loaded the counter degrades to a four-characters-per-
// token estimate.
func NewCompressor(model string, maxTokens int) *Compressor {
	encoding := encodingForModel(model)
	count := func(msg protocol.Message) int {
		text := messageText(msg)
		if encoding == nil {
			return tokensPerMessage + len(msg.Role)/4 + len(text)/4
		}
		n := tokensPerMessage
		n += len(encoding.Encode(msg.Role, nil, nil))
		n += len(encoding.Encode(text, nil, nil))
		return n
	}
	return &Compressor{maxTokens: maxTokens, count: count}
}

func messageText(msg protocol.Message) string {
	text := msg.Content
	if len(msg.ToolCalls) > 0 {
		if b, err := json.Marshal(msg.ToolCalls); err == nil {
			text += string(b)
		}
	}
	return text
}

// CountMessages returns the token cost of sending the given history,
// including the reply priming.
func (c *Compressor) CountMessages(messages []protocol.Message) int {
	total := tokensPerReply
	for _, msg := range messages {
		total += c.count(msg)
	}
	return total
}

// Compress returns the most recent messages that fit the budget. Groups are
// taken from newest backwards; the newest group is always kept even when it
// alone exceeds the budget, so a turn is never silently emptied.
func (c *Compressor) Compress(messages []protocol.Message) []protocol.Message {
	if len(messages) == 0 || c.maxTokens <= 0 {
		return messages
	}
	if c.CountMessages(messages) <= c.maxTokens {
		return messages
	}

	groups := groupMessages(messages)
	budget := c.maxTokens - tokensPerReply

	kept := 0
	used := 0
	for i := len(groups) - 1; i >= 0; i-- {
		cost := 0
		for _, msg := range groups[i] {
			cost += c.count(msg)
		}
		if kept > 0 && used+cost > budget {
			break
		}
		used += cost
		kept++
	}

	var fitted []protocol.Message
	for _, group := range groups[len(groups)-kept:] {
		fitted = append(fitted, group...)
	}
	return fitted
}

// groupMessages splits history into indivisible units: an assistant message
// with tool calls absorbs the tool messages that answer it, everything else
// stands alone.
func groupMessages(messages []protocol.Message) [][]protocol.Message {
	var groups [][]protocol.Message
	i := 0
	for i < len(messages) {
		msg := messages[i]
		group := []protocol.Message{msg}
		i++
		if msg.Role == protocol.RoleAssistant && len(msg.ToolCalls) > 0 {
			pending := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
			for i < len(messages) && messages[i].Role == protocol.RoleTool && pending[messages[i].ToolCallID] {
				delete(pending, messages[i].ToolCallID)
				group = append(group, messages[i])
				i++
			}
		}
		groups = append(groups, group)
	}
	return groups
}
