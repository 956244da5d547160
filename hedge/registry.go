package hedge

import (
	"sort"
	"sync"
)

// Attachment is the policy and listeners registered for one client.
type Attachment[Req, Resp any] struct {
	Policy    Policy[Req, Resp]
	Listeners []Listener[Req, Resp]
}

// Registry attaches hedging policies to named clients.
//
// Applications register one policy per downstream client at startup and
// build dispatchers from it where the clients are created, so the wiring
// lives in one place.
//
// Example:
//
//	reg := hedge.NewRegistry[*http.Request, *http.Response]()
//	reg.Register("user-service", policy, logListener)
//
//	d, ok := reg.Dispatcher("user-service", hedge.WithLogger(logger))
type Registry[Req, Resp any] struct {
	mu      sync.RWMutex
	entries map[string]Attachment[Req, Resp]
}

// NewRegistry returns an empty Registry.
func NewRegistry[Req, Resp any]() *Registry[Req, Resp] {
	return &Registry[Req, Resp]{entries: make(map[string]Attachment[Req, Resp])}
}

// Register attaches policy and listeners to name, replacing any previous
// attachment. It panics if name is empty or policy is nil.
func (r *Registry[Req, Resp]) Register(name string, policy Policy[Req, Resp], listeners ...Listener[Req, Resp]) {
	if name == "" {
		panic("hedge: empty client name")
	}
	if policy == nil {
		panic("hedge: nil policy for client " + name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Attachment[Req, Resp]{
		Policy:    policy,
		Listeners: append([]Listener[Req, Resp](nil), listeners...),
	}
}

// Lookup returns the attachment registered for name.
func (r *Registry[Req, Resp]) Lookup(name string) (Attachment[Req, Resp], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.entries[name]
	return a, ok
}

// Names returns the registered client names in sorted order.
func (r *Registry[Req, Resp]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatcher builds a Dispatcher for name from its attachment. WithName(name)
// is applied before opts. It returns false when name is not registered.
func (r *Registry[Req, Resp]) Dispatcher(name string, opts ...Option) (*Dispatcher[Req, Resp], bool) {
	a, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}

	all := make([]Option, 0, len(opts)+1)
	all = append(all, WithName(name))
	all = append(all, opts...)
	return NewDispatcher(a.Policy, a.Listeners, all...), true
}
