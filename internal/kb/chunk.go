package kb

import "strings"

const (
	// chunkTargetRunes is the soft upper bound for a single chunk.
	chunkTargetRunes = 1200

	// chunkMinRunes avoids storing fragments too small to retrieve on their own.
	chunkMinRunes = 80
)

// ChunkText splits document text into retrieval-sized chunks.
// Paragraphs are kept intact and greedily packed until the target size;
// trailing fragments below the minimum are merged into the previous chunk.
func ChunkText(text string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var chunks []string
	var current strings.Builder
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > chunkTargetRunes {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	// Merge a tiny trailing chunk into its predecessor.
	if n := len(chunks); n > 1 && len(chunks[n-1]) < chunkMinRunes {
		chunks[n-2] = chunks[n-2] + "\n\n" + chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}
