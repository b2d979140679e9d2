// Package event provides a typed publish/subscribe port that engine components
// expose for their outbound notifications.
package event

// Source is a list of handlers interested in values of type T.
// It is not safe for concurrent use; owners emit from a single goroutine.
type Source[T any] struct {
	handlers []func(T)
}

// Subscribe registers a handler. Handlers run in registration order.
func (s *Source[T]) Subscribe(handler func(T)) {
	s.handlers = append(s.handlers, handler)
}

// Emit delivers v to every registered handler synchronously.
func (s *Source[T]) Emit(v T) {
	for _, h := range s.handlers {
		h(v)
	}
}

// Len returns the number of registered handlers.
func (s *Source[T]) Len() int {
	return len(s.handlers)
}
