package coap

import (
	"context"
	"sync"
)

// Observation is a registered observe relation on one resource.
type Observation struct {
	client  *Client
	path    string
	token   []byte
	handler NotificationHandler

	mu       sync.Mutex
	canceled bool
}

// Path returns the observed resource path.
func (o *Observation) Path() string { return o.path }

// Token returns the relation token.
func (o *Observation) Token() []byte { return o.token }

// Reregister repeats the registration with the same token.
func (o *Observation) Reregister(ctx context.Context) (*Message, error) {
	o.mu.Lock()
	canceled := o.canceled
	o.mu.Unlock()
	if canceled {
		return nil, ErrNotObserving
	}
	return o.send(ctx, ObserveRegister)
}

// Cancel deregisters the relation. The observation stops delivering
// notifications even if the deregistration exchange fails.
func (o *Observation) Cancel(ctx context.Context) error {
	o.mu.Lock()
	if o.canceled {
		o.mu.Unlock()
		return nil
	}
	o.canceled = true
	o.mu.Unlock()

	o.client.removeObserver(o.token)
	_, err := o.send(ctx, ObserveDeregister)
	return err
}

func (o *Observation) send(ctx context.Context, observe uint32) (*Message, error) {
	req := &Message{Type: Confirmable, Code: GET, Token: o.token}
	req.SetPath(o.path)
	req.SetObserve(observe)
	return o.client.request(ctx, req)
}

func (o *Observation) notify(m *Message) {
	o.mu.Lock()
	if o.canceled {
		o.mu.Unlock()
		return
	}
	handler := o.handler
	o.mu.Unlock()

	if handler != nil {
		handler(m)
	}
}
