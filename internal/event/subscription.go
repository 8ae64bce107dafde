package event

import "reflect"

// Event is the value passed to a subscriber.
type Event struct {
	// Name is the canonical event name.
	Name string

	// Data is the payload supplied to FireEvent.
	Data any

	// CallbackData is the value supplied with WithData at subscription.
	CallbackData any

	// Scope is the value supplied with WithScope at subscription.
	Scope any
}

// Handler processes a fired event. A returned error is reported, not
// propagated.
type Handler func(e Event) error

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// ID overrides the handler identity used for de-duplication.
	ID string

	// Data is passed back to the handler as Event.CallbackData.
	Data any

	// Scope is passed back to the handler as Event.Scope and takes part in
	// de-duplication.
	Scope any

	// Once removes the subscription after its first delivery.
	Once bool
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithID sets an explicit handler identity.
func WithID(id string) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.ID = id
	}
}

// WithData sets the callback data.
func WithData(data any) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Data = data
	}
}

// WithScope sets the subscription scope.
func WithScope(scope any) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Scope = scope
	}
}

// WithOnce sets the subscription to auto-cancel after the first event.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// Subscription is a registered handler.
type Subscription struct {
	id      uint64
	name    string
	handler Handler
	key     handlerKey
	config  SubscriptionConfig
	bus     *Bus

	fired     bool
	cancelled bool
}

// Name returns the canonical event name.
func (s *Subscription) Name() string {
	return s.name
}

// Once reports whether the subscription is one-shot.
func (s *Subscription) Once() bool {
	return s.config.Once
}

// Active reports whether the subscription can still receive events.
func (s *Subscription) Active() bool {
	return !s.cancelled && !(s.config.Once && s.fired)
}

// Unsubscribe removes the subscription from its bus.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

type handlerKey struct {
	id  string
	ptr uintptr
}

func keyFor(h Handler, cfg SubscriptionConfig) handlerKey {
	if cfg.ID != "" {
		return handlerKey{id: cfg.ID}
	}
	return handlerKey{ptr: reflect.ValueOf(h).Pointer()}
}

// sameIdentity reports whether s was registered with the same handler,
// callback data and scope.
func (s *Subscription) sameIdentity(key handlerKey, cfg SubscriptionConfig) bool {
	return s.key == key && looseEqual(s.config.Data, cfg.Data) && looseEqual(s.config.Scope, cfg.Scope)
}

// looseEqual compares two values without panicking on uncomparable types.
// Uncomparable values are equal only when they are the same reference.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	return false
}
