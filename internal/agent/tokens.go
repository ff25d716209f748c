package agent

import (
	"strings"

	"github.com/satquery/satquery/internal/kb"
	"github.com/tiktoken-go/tokenizer"
)

// tokenizerForModel returns a tokenizer codec suitable for an OpenAI-style model id.
func tokenizerForModel(model string) (tokenizer.Codec, error) {
	sanitized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case sanitized == "":
		return tokenizer.Get(tokenizer.Cl100kBase)
	case strings.HasPrefix(sanitized, "gpt-5"):
		return tokenizer.ForModel(tokenizer.GPT5)
	case strings.HasPrefix(sanitized, "gpt-4.1"):
		return tokenizer.ForModel(tokenizer.GPT41)
	case strings.HasPrefix(sanitized, "gpt-4o"):
		return tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(sanitized, "gpt-4"):
		return tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(sanitized, "gpt-3.5"), strings.HasPrefix(sanitized, "gpt-3"):
		return tokenizer.ForModel(tokenizer.GPT35Turbo)
	case strings.HasPrefix(sanitized, "o1"):
		return tokenizer.ForModel(tokenizer.O1)
	case strings.HasPrefix(sanitized, "o3"):
		return tokenizer.ForModel(tokenizer.O3)
	default:
		return tokenizer.Get(tokenizer.O200kBase)
	}
}

// CountTokens approximates the token count of text for the given model.
// Falls back to a bytes/4 estimate when no codec is available.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := tokenizerForModel(model)
	if err != nil {
		return len(text) / 4
	}
	count, err := enc.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TrimSnippetsToBudget drops trailing snippets once the accumulated token
// count exceeds the budget. Snippets arrive ordered by similarity, so the
// least relevant material is discarded first. At least one snippet is kept
// when the budget allows any tokens at all.
func TrimSnippetsToBudget(model string, snippets []kb.Snippet, budget int) []kb.Snippet {
	if budget <= 0 || len(snippets) == 0 {
		return nil
	}

	total := 0
	kept := make([]kb.Snippet, 0, len(snippets))
	for _, snippet := range snippets {
		tokens := CountTokens(model, snippet.Content)
		if total+tokens > budget && len(kept) > 0 {
			break
		}
		total += tokens
		kept = append(kept, snippet)
		if total >= budget {
			break
		}
	}
	return kept
}
