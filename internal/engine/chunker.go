package engine

import "strings"

// defaultChunkSize is the target chunk size in words.
const defaultChunkSize = 300

// chunk splits text into overlapping word-window chunks.
//
// Whitespace runs are collapsed. The final chunk may be shorter than size.
func chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	// An out-of-range overlap falls back to a tenth of the chunk size so
	// the window always advances, whatever the size.
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
