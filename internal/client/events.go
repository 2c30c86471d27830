package client

import "github.com/Vicaadrn/web-scanner-project/internal/model"

// Event is delivered to observers. It is one of StateChanged, AuthRequired
// or AuthChanged.
type Event interface {
	isEvent()
}

// StateChanged carries every reconciled state change of a watched scan.
type StateChanged struct {
	JobID string
	State model.ScanState
}

// AuthRequired is sent when a submission was refused because the anonymous
// quota is used up.
type AuthRequired struct {
	ScanCount    int
	MaxFreeScans int
}

// AuthChanged is sent when the service reports a different login state than
// last seen. User is nil for anonymous callers.
type AuthChanged struct {
	LoggedIn bool
	User     *User
}

func (StateChanged) isEvent() {}
func (AuthRequired) isEvent() {}
func (AuthChanged) isEvent()  {}

// Observer receives events synchronously on the goroutine that produced
// them and must not block.
type Observer func(Event)

// Observe registers fn and returns a function that removes it.
func (c *Client) Observe(fn Observer) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Client) publish(ev Event) {
	c.obsMu.RLock()
	fns := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// noteLogin publishes AuthChanged when the login state differs from the
// last one observed.
func (c *Client) noteLogin(loggedIn bool, user *User) {
	c.obsMu.Lock()
	changed := c.loggedIn == nil || *c.loggedIn != loggedIn
	c.loggedIn = &loggedIn
	c.obsMu.Unlock()
	if changed {
		c.publish(AuthChanged{LoggedIn: loggedIn, User: user})
	}
}
