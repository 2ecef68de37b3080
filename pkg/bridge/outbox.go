package bridge

import (
	"sync"

	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// outbox queues messages for the telephony writer. The event loop pushes,
// the writer pops one message per write; clear swaps out everything pending
// in one step, so at most the message already being written precedes it.
type outbox struct {
	mu      sync.Mutex
	pending []twilio.Outbound
	ready   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(msg twilio.Outbound) {
	o.mu.Lock()
	o.pending = append(o.pending, msg)
	o.mu.Unlock()
	o.signal()
}

// clear discards pending messages, queues msg in their place and returns
// how many were discarded.
func (o *outbox) clear(msg twilio.Outbound) int {
	o.mu.Lock()
	dropped := len(o.pending)
	o.pending = []twilio.Outbound{msg}
	o.mu.Unlock()
	o.signal()
	return dropped
}

func (o *outbox) pop() (twilio.Outbound, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return twilio.Outbound{}, false
	}
	msg := o.pending[0]
	o.pending[0] = twilio.Outbound{}
	o.pending = o.pending[1:]
	return msg, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
