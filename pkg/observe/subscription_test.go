package observe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeRelation struct {
	mu          sync.Mutex
	pings       int
	reregisters int
	cancels     int
	pingErr     error
	state       []byte
}

func (r *fakeRelation) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings++
	return r.pingErr
}

func (r *fakeRelation) Reregister(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reregisters++
	return r.state, nil
}

func (r *fakeRelation) Cancel(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	return nil
}

type fakeRegistrar struct {
	mu        sync.Mutex
	relations []*fakeRelation
	deliver   func([]byte)
	err       error
	sub       **Subscription
	seen      []State
}

func (f *fakeRegistrar) Register(ctx context.Context, deliver func([]byte)) (Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil && *f.sub != nil {
		f.seen = append(f.seen, (*f.sub).State())
	}
	if f.err != nil {
		return nil, f.err
	}
	rel := &fakeRelation{}
	f.relations = append(f.relations, rel)
	f.deliver = deliver
	return rel, nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.relations)
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err != ErrNoRegistrar {
		t.Errorf("New() error = %v, want %v", err, ErrNoRegistrar)
	}
	if _, err := New(Config{Registrar: &fakeRegistrar{}, MaxAttempts: -1}); err != ErrInvalidMaxAttempts {
		t.Errorf("New() error = %v, want %v", err, ErrInvalidMaxAttempts)
	}
}

func TestSubscriptionRegisters(t *testing.T) {
	var sub *Subscription
	reg := &fakeRegistrar{sub: &sub}
	sub, err := New(Config{Registrar: reg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if sub.State() != StateUnsubscribed {
		t.Fatalf("initial State() = %s", sub.State())
	}

	if err := sub.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if sub.State() != StateActive {
		t.Errorf("State() = %s, want Active", sub.State())
	}
	if len(reg.seen) != 1 || reg.seen[0] != StateRegistering {
		t.Errorf("state during registration = %v", reg.seen)
	}
	if sub.Handle() == uuid.Nil {
		t.Error("Handle() not assigned")
	}
}

func TestSubscriptionRegisterFailure(t *testing.T) {
	boom := errors.New("no route")
	reg := &fakeRegistrar{err: boom}
	sub, _ := New(Config{Registrar: reg})

	if err := sub.Tick(context.Background()); err != boom {
		t.Errorf("Tick() error = %v, want %v", err, boom)
	}
	if sub.State() != StateUnsubscribed {
		t.Errorf("State() = %s, want Unsubscribed", sub.State())
	}
}

func TestSubscriptionBound(t *testing.T) {
	var sub *Subscription
	reg := &fakeRegistrar{sub: &sub}
	sub, _ = New(Config{Registrar: reg, MaxAttempts: 6})
	ctx := context.Background()

	sub.Tick(ctx)
	first := sub.Handle()
	rel := reg.relations[0]

	for i := 1; i <= 6; i++ {
		if err := sub.Tick(ctx); err != nil {
			t.Fatalf("keep-alive tick %d error = %v", i, err)
		}
		if sub.State() != StateActive {
			t.Fatalf("tick %d: State() = %s, want Active", i, sub.State())
		}
		if sub.Attempts() != i {
			t.Fatalf("tick %d: Attempts() = %d", i, sub.Attempts())
		}
	}
	if rel.pings != 6 || rel.reregisters != 6 {
		t.Errorf("pings = %d, reregisters = %d, want 6", rel.pings, rel.reregisters)
	}

	sub.Tick(ctx)
	if sub.State() != StateCanceled {
		t.Fatalf("State() = %s, want Canceled", sub.State())
	}
	if rel.cancels != 1 {
		t.Errorf("cancels = %d, want 1", rel.cancels)
	}

	sub.Tick(ctx)
	if sub.State() != StateActive {
		t.Errorf("State() after re-access = %s, want Active", sub.State())
	}
	if reg.count() != 2 {
		t.Errorf("registrations = %d, want 2", reg.count())
	}
	if got := reg.seen[len(reg.seen)-1]; got != StateRegistering {
		t.Errorf("state during re-registration = %s", got)
	}
	if sub.Handle() == first {
		t.Error("Handle() unchanged after re-registration")
	}
}

func TestSubscriptionPushResetsAttempts(t *testing.T) {
	var pushed [][]byte
	reg := &fakeRegistrar{}
	sub, _ := New(Config{
		Registrar:   reg,
		MaxAttempts: 2,
		OnPush:      func(p []byte) { pushed = append(pushed, p) },
	})
	ctx := context.Background()

	sub.Tick(ctx)
	sub.Tick(ctx)
	sub.Tick(ctx)
	if sub.Attempts() != 2 {
		t.Fatalf("Attempts() = %d, want 2", sub.Attempts())
	}

	before := sub.LastResponseAt()
	reg.deliver([]byte(`{"pwr":"1"}`))
	if sub.Attempts() != 0 {
		t.Errorf("Attempts() after push = %d, want 0", sub.Attempts())
	}
	if sub.LastResponseAt().Before(before) {
		t.Error("LastResponseAt() moved backwards")
	}
	if len(pushed) != 1 || string(pushed[0]) != `{"pwr":"1"}` {
		t.Errorf("OnPush payloads = %q", pushed)
	}

	sub.Tick(ctx)
	if sub.State() != StateActive {
		t.Errorf("State() = %s, want Active after push", sub.State())
	}
}

func TestSubscriptionReregisterStateKeepsAttempts(t *testing.T) {
	var pushed [][]byte
	reg := &fakeRegistrar{}
	sub, _ := New(Config{
		Registrar:   reg,
		MaxAttempts: 2,
		OnPush:      func(p []byte) { pushed = append(pushed, p) },
	})
	ctx := context.Background()

	sub.Tick(ctx)
	reg.relations[0].state = []byte(`{"pwr":"0"}`)

	sub.Tick(ctx)
	sub.Tick(ctx)
	if sub.Attempts() != 2 {
		t.Errorf("Attempts() = %d, want 2", sub.Attempts())
	}
	if len(pushed) != 2 || string(pushed[1]) != `{"pwr":"0"}` {
		t.Errorf("OnPush payloads = %q", pushed)
	}

	// The re-registration answers did not renew the relation.
	sub.Tick(ctx)
	if sub.State() != StateCanceled {
		t.Errorf("State() = %s, want Canceled", sub.State())
	}
	if reg.relations[0].cancels != 1 {
		t.Errorf("cancels = %d, want 1", reg.relations[0].cancels)
	}
}

func TestSubscriptionKeepAliveError(t *testing.T) {
	reg := &fakeRegistrar{}
	sub, _ := New(Config{Registrar: reg})
	ctx := context.Background()
	sub.Tick(ctx)

	boom := errors.New("timeout")
	reg.relations[0].pingErr = boom
	if err := sub.Tick(ctx); err != boom {
		t.Errorf("Tick() error = %v, want %v", err, boom)
	}
	if sub.State() != StateActive || sub.Attempts() != 1 {
		t.Errorf("State() = %s, Attempts() = %d", sub.State(), sub.Attempts())
	}
	if reg.relations[0].reregisters != 0 {
		t.Error("Reregister called after failed ping")
	}
}

func TestSubscriptionCancel(t *testing.T) {
	var pushed int
	reg := &fakeRegistrar{}
	sub, _ := New(Config{Registrar: reg, OnPush: func([]byte) { pushed++ }})
	ctx := context.Background()

	sub.Tick(ctx)
	deliver := reg.deliver
	if err := sub.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if sub.State() != StateCanceled {
		t.Errorf("State() = %s, want Canceled", sub.State())
	}

	deliver([]byte("late"))
	if pushed != 0 {
		t.Error("push delivered after Cancel")
	}

	if err := sub.Cancel(ctx); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUnsubscribed, "Unsubscribed"},
		{StateRegistering, "Registering"},
		{StateActive, "Active"},
		{StateReregistering, "Reregistering"},
		{StateCanceled, "Canceled"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
	if State(99).IsValid() {
		t.Error("State(99).IsValid() = true")
	}
}
