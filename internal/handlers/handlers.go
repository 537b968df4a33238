// Package handlers keeps the handler registrations of a transport
// connection in the order they were made.
package handlers

// List is an ordered set of handlers. It is not safe for concurrent use;
// the owning connection guards it with its own lock.
type List[H any] struct {
	nextID  uint64
	entries []entry[H]
}

type entry[H any] struct {
	id      uint64
	handler H
}

// Add appends handler and returns the id used to remove it.
func (l *List[H]) Add(handler H) uint64 {
	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, entry[H]{id: id, handler: handler})
	return id
}

// Remove drops the handler registered under id. Unknown ids are ignored.
func (l *List[H]) Remove(id uint64) {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// Each calls fn with every handler in registration order.
func (l *List[H]) Each(fn func(H)) {
	for _, e := range l.entries {
		fn(e.handler)
	}
}

func (l *List[H]) Len() int {
	return len(l.entries)
}
