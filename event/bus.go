package event

type Handler[Event any] interface {
	OnEvent(e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Event any] func(Event)

// OnEvent calls f(e).
func (f HandlerFunc[Event]) OnEvent(e Event) {
	f(e)
}

type subscription[Event any] struct {
	key     string
	handler Handler[Event]
}

// Bus is an observer list. Handlers are keyed so that subscribing and
// unsubscribing are idempotent, and they are invoked synchronously in
// subscription order.
//
// Bus is not safe for concurrent use; it belongs to the execution context of
// the orchestrator that publishes on it.
type Bus[Event any] struct {
	subscriptions []subscription[Event]
}

func NewBus[Event any]() *Bus[Event] {
	return &Bus[Event]{}
}

// Subscribe registers h under key. Subscribing again with the same key
// replaces the previous handler and keeps its position.
func (b *Bus[Event]) Subscribe(key string, h Handler[Event]) {
	for i := range b.subscriptions {
		if b.subscriptions[i].key == key {
			b.subscriptions[i].handler = h
			return
		}
	}
	b.subscriptions = append(b.subscriptions, subscription[Event]{key: key, handler: h})
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus[Event]) SubscribeFunc(key string, f func(Event)) {
	b.Subscribe(key, HandlerFunc[Event](f))
}

// Unsubscribe removes the handler registered under key, if any.
func (b *Bus[Event]) Unsubscribe(key string) {
	for i := range b.subscriptions {
		if b.subscriptions[i].key == key {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			return
		}
	}
}

func (b *Bus[Event]) Len() int {
	return len(b.subscriptions)
}

// Publish delivers e to every handler. Handlers may subscribe or unsubscribe
// while being notified; changes apply from the next Publish.
func (b *Bus[Event]) Publish(e Event) {
	subscriptions := make([]subscription[Event], len(b.subscriptions))
	copy(subscriptions, b.subscriptions)

	for _, s := range subscriptions {
		s.handler.OnEvent(e)
	}
}
