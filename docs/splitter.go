package docs

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Split cuts text into chunks of at most size runes, each starting overlap
// runes before the previous one ended.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < n; {
		end := min(i+size, n)
		chunks = append(chunks, string(runes[i:end]))
		next := end - overlap
		if end == n || next <= i {
			break
		}
		i = next
	}
	return chunks
}
