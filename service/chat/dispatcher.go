package chat

import "fmt"

// HandlerFunc processes one inbound frame on behalf of a session.
type HandlerFunc func(c *Client, f *Frame) error

type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) { d.handlers[event] = h }

func (d *Dispatcher) Dispatch(c *Client, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return fmt.Errorf("no handler for event=%s", f.Event)
	}
	return h(c, f)
}
