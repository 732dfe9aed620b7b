package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// HandlerFunc is the protocol message handler. It may return a message to
// send back.
type HandlerFunc func(ctx context.Context, mc *MessageContext) (*OutboundMessage, error)

// ProtProc is a protocol processor: the handlers of one message family keyed
// by the message type.
type ProtProc struct {
	Handlers map[string]HandlerFunc
}

// Dispatcher delivers inbound messages to their handlers. The handlers are
// registered when the agent is built, before any message is received.
type Dispatcher struct {
	sender *Sender

	lk       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewDispatcher(s *Sender) *Dispatcher {
	return &Dispatcher{
		sender:   s,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds all the handlers of the protocol processor.
func (d *Dispatcher) Register(p ProtProc) {
	for t, h := range p.Handlers {
		d.Add(t, h)
	}
}

// Add registers the handler for the message type and its legacy form.
func (d *Dispatcher) Add(msgType string, h HandlerFunc) {
	d.lk.Lock()
	defer d.lk.Unlock()

	d.handlers[didcomm.FromLegacy(msgType)] = h
	d.handlers[didcomm.ToLegacy(msgType)] = h
}

// Handles tells if the message type has a handler.
func (d *Dispatcher) Handles(msgType string) bool {
	_, ok := d.handler(msgType)
	return ok
}

// MessageTypes returns the registered message types in the current form.
func (d *Dispatcher) MessageTypes() []string {
	d.lk.RLock()
	defer d.lk.RUnlock()

	types := make([]string, 0, len(d.handlers)/2)
	for t := range d.handlers {
		if t == didcomm.FromLegacy(t) {
			types = append(types, t)
		}
	}
	return types
}

func (d *Dispatcher) handler(msgType string) (HandlerFunc, bool) {
	d.lk.RLock()
	defer d.lk.RUnlock()

	h, ok := d.handlers[msgType]
	return h, ok
}

// Dispatch calls the handler of the message and sends the message it
// returns. The reply uses the inbound session if the sender asked for it.
func (d *Dispatcher) Dispatch(ctx context.Context, mc *MessageContext) (err error) {
	defer err2.Handle(&err, "dispatch %s", mc.Header.Type)

	h, ok := d.handler(mc.Header.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledMessageType, mc.Header.Type)
	}
	glog.V(3).Infoln("dispatching", mc.Header.Type, mc.Header.ID)

	out := try.To1(h(ctx, mc))
	if out == nil {
		return nil
	}
	if out.Session == nil && mc.Header.ReturnRoute() != "" {
		out.Session = mc.Session
	}
	try.To(d.sender.Send(ctx, out))
	return nil
}
