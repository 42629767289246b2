package embedding

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// ChunkText splits text into overlapping windows of roughly size runes.
// A window ending mid-text is snapped back to the last sentence-ending
// period, provided that period falls past the window's midpoint. The next
// window starts overlap runes before the previous end, or at the previous
// end when that would not advance, so the loop makes forward progress for
// any size >= 1 and overlap >= 0 (including overlap >= size).
func ChunkText(text string, size, overlap int) []string {
	if size < 1 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}

	runes := []rune(text)
	n := len(runes)

	if n <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}

		if end < n {
			if p := lastPeriod(runes[start:end]); p != -1 && p+1 > size/2 {
				end = start + p + 1
			}
		}

		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func lastPeriod(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '.' {
			return i
		}
	}
	return -1
}
