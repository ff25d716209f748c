package agent

import (
	"fmt"
	"strings"

	"github.com/satquery/satquery/internal/kb"
	"github.com/tidwall/sjson"
)

// DefaultSystemPrompt is the assistant persona used when the config does not
// override it.
const DefaultSystemPrompt = "You are a Bitcoin knowledge assistant. Answer questions about Bitcoin, " +
	"its protocol, history, and ecosystem accurately and concisely. When reference material is " +
	"provided, ground your answer in it and do not invent facts beyond it. If you do not know, say so."

// BuildChatPayload assembles an OpenAI chat-completions request body.
// Retrieved snippets are folded into the system message as numbered
// reference material.
func BuildChatPayload(model, systemPrompt, question string, snippets []kb.Snippet, stream bool) []byte {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if len(snippets) > 0 {
		var sb strings.Builder
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\nReference material:\n")
		for i, snippet := range snippets {
			sb.WriteString(fmt.Sprintf("[%d] %s\n%s\n\n", i+1, snippet.Title, snippet.Content))
		}
		systemPrompt = strings.TrimRight(sb.String(), "\n")
	}

	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "model", model)
	payload, _ = sjson.SetBytes(payload, "messages.0.role", "system")
	payload, _ = sjson.SetBytes(payload, "messages.0.content", systemPrompt)
	payload, _ = sjson.SetBytes(payload, "messages.1.role", "user")
	payload, _ = sjson.SetBytes(payload, "messages.1.content", question)
	if stream {
		payload, _ = sjson.SetBytes(payload, "stream", true)
		payload, _ = sjson.SetBytes(payload, "stream_options.include_usage", true)
	}
	return payload
}
