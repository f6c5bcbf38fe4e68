package container

// DynamicArray is a caller-sized slice wrapper: capacity growth is the
// caller's responsibility. AddLast never grows storage implicitly; it
// reports overflow so the caller can call Reserve and retry.
type DynamicArray[T any] struct {
	items []T
}

// NewDynamicArray returns an array with the given starting capacity.
func NewDynamicArray[T any](capacity int) *DynamicArray[T] {
	return &DynamicArray[T]{items: make([]T, 0, capacity)}
}

// Len returns the number of live elements.
func (a *DynamicArray[T]) Len() int { return len(a.items) }

// Cap returns the current backing capacity.
func (a *DynamicArray[T]) Cap() int { return cap(a.items) }

// Reserve grows backing capacity to at least n, no-op if already large enough.
func (a *DynamicArray[T]) Reserve(n int) {
	if cap(a.items) >= n {
		return
	}
	grown := make([]T, len(a.items), n)
	copy(grown, a.items)
	a.items = grown
}

// AddLast appends value iff capacity allows it without reallocating.
// It reports ok=false on overflow: the caller must Reserve and retry.
func (a *DynamicArray[T]) AddLast(value T) (ok bool) {
	if len(a.items) >= cap(a.items) {
		return false
	}
	a.items = append(a.items, value)
	return true
}

// At returns the element at index i.
func (a *DynamicArray[T]) At(i int) T { return a.items[i] }

// Set overwrites the element at index i.
func (a *DynamicArray[T]) Set(i int, value T) { a.items[i] = value }

// RemoveSwapAt removes the element at i in O(1) by swapping in the
// last element; it does not preserve order.
func (a *DynamicArray[T]) RemoveSwapAt(i int) {
	last := len(a.items) - 1
	a.items[i] = a.items[last]
	a.items = a.items[:last]
}

// RemoveAt removes the element at i, shifting the tail down; O(n).
func (a *DynamicArray[T]) RemoveAt(i int) {
	a.items = append(a.items[:i], a.items[i+1:]...)
}

// Slice exposes the live elements; callers must not retain it across
// further mutation of the array.
func (a *DynamicArray[T]) Slice() []T { return a.items }
