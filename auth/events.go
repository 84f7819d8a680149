package auth

import "sync"

// Event names a session notification.
type Event string

const (
	EventSessionExpired  Event = "session_expired"
	EventLogoutComplete  Event = "logout_complete"
	EventLoggedIn        Event = "logged_in"
	EventTokensRefreshed Event = "tokens_refreshed"
)

// Observer receives events synchronously. It must not block.
type Observer func(Event)

type observers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]Observer)
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.fns, id)
		})
	}
}

func (o *observers) emit(e Event) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
