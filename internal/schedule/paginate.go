package schedule

// DefaultCapacity is the number of event cards on one export page
// (3 columns x 4 rows).
const DefaultCapacity = 12

// Paginate splits items into consecutive chunks of at most capacity
// elements. Every chunk but the last is full; an empty input yields no
// chunks. A non-positive capacity falls back to DefaultCapacity.
//
// Chunks share the backing array of items but are capacity-limited, so
// appending to one never overwrites the next.
func Paginate[T any](items []T, capacity int) [][]T {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+capacity-1)/capacity)
	for start := 0; start < len(items); start += capacity {
		end := min(start+capacity, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
