// Package chunk splits DynamoDB request lists to the native per-call item ceiling.
package chunk

// Slice splits items into consecutive chunks of at most size elements.
// With size < 1 the whole input is returned as a single chunk.
// The chunks share the backing array of items.
func Slice[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, Count(len(items), size))
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// Count returns how many chunks Slice would produce.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size < 1 {
		return 1
	}
	return (n + size - 1) / size
}
