package residential

import "container/heap"

// bounded keeps the best cap items offered to it. The heap root is the
// worst retained item, so an insert past capacity evicts it in O(log k).
type bounded[T any] struct {
	items []T
	worse func(a, b T) bool // a ranks below b
	cap   int
}

func newBounded[T any](capacity int, worse func(a, b T) bool) *bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &bounded[T]{worse: worse, cap: capacity}
}

func (b *bounded[T]) Len() int           { return len(b.items) }
func (b *bounded[T]) Less(i, j int) bool { return b.worse(b.items[i], b.items[j]) }
func (b *bounded[T]) Swap(i, j int)      { b.items[i], b.items[j] = b.items[j], b.items[i] }
func (b *bounded[T]) Push(x any)         { b.items = append(b.items, x.(T)) }
func (b *bounded[T]) Pop() any {
	old := b.items
	n := len(old)
	v := old[n-1]
	b.items = old[:n-1]
	return v
}

// Offer inserts v, evicting the worst item when over capacity.
func (b *bounded[T]) Offer(v T) {
	if b.cap == 0 {
		return
	}
	heap.Push(b, v)
	if len(b.items) > b.cap {
		heap.Pop(b)
	}
}

// Drain empties the heap and returns its items best first.
func (b *bounded[T]) Drain() []T {
	out := make([]T, len(b.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(b).(T)
	}
	return out
}
