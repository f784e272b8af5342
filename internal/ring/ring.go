// Package ring реализует кольцевой буфер фиксированной емкости:
// при переполнении вытесняется самый старый элемент.
package ring

import "sync"

type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

// New создает буфер. Емкость меньше 1 приводится к 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push добавляет элемент и возвращает true, если при этом был вытеснен старейший.
func (b *Buffer[T]) Push(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.start+b.size)%capacity] = v
		b.size++
		return false
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % capacity
	return true
}

// Items возвращает копию содержимого от старых к новым.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Last возвращает самый свежий элемент.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.start+b.size-1)%len(b.items)], true
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
