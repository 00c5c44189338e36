package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config[int]{TTL: time.Second}); err != ErrNoRefreshFunc {
		t.Errorf("New(no refresh) error = %v, want ErrNoRefreshFunc", err)
	}
	refresh := func(context.Context) (int, error) { return 1, nil }
	if _, err := New(Config[int]{Refresh: refresh}); err != ErrInvalidTTL {
		t.Errorf("New(no ttl) error = %v, want ErrInvalidTTL", err)
	}
}

// A 5s cache whose refresh yields "A" then "B" returns "A" for every call
// within 5s of the first, then "B".
func TestExpiring_TTLScenario(t *testing.T) {
	clock := newFakeClock()
	values := []string{"A", "B"}
	var calls int32

	c, err := New(Config[string]{
		TTL:   5000 * time.Millisecond,
		Clock: clock,
		Refresh: func(context.Context) (string, error) {
			n := atomic.AddInt32(&calls, 1)
			return values[n-1], nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	for _, step := range []time.Duration{0, time.Second, 2 * time.Second, 1999 * time.Millisecond} {
		clock.Advance(step)
		got, err := c.Get(ctx)
		if err != nil || got != "A" {
			t.Fatalf("Get() = %q, %v, want A", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}

	clock.Advance(time.Millisecond)
	got, err := c.Get(ctx)
	if err != nil || got != "B" {
		t.Fatalf("Get() after ttl = %q, %v, want B", got, err)
	}
	if calls != 2 {
		t.Errorf("refresh calls = %d, want 2", calls)
	}
}

func TestExpiring_Idempotent(t *testing.T) {
	var calls int32
	c, _ := New(Config[int]{
		TTL: time.Minute,
		Refresh: func(context.Context) (int, error) {
			return int(atomic.AddInt32(&calls, 1)), nil
		},
	})

	a, _ := c.Get(context.Background())
	b, _ := c.Get(context.Background())
	if a != b || calls != 1 {
		t.Errorf("Get() = %d, %d with %d refreshes, want equal values and 1 refresh", a, b, calls)
	}
}

func TestExpiring_SingleFlight(t *testing.T) {
	const callers = 32
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	c, _ := New(Config[int]{
		TTL: time.Minute,
		Refresh: func(context.Context) (int, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			<-release
			return 42, nil
		},
	})

	var wg sync.WaitGroup
	results := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background())
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			results <- v
		}()
	}

	<-started
	// Let the other callers pile up on the in-flight refresh.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
	for v := range results {
		if v != 42 {
			t.Errorf("Get() = %d, want 42", v)
		}
	}
}

func TestExpiring_CanceledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var refreshErr error

	c, _ := New(Config[int]{
		TTL: time.Minute,
		Refresh: func(ctx context.Context) (int, error) {
			close(started)
			select {
			case <-release:
				return 7, nil
			case <-ctx.Done():
				refreshErr = ctx.Err()
				return 0, ctx.Err()
			}
		},
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA)
		errA <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.Get(context.Background())
		resB <- result{v, err}
	}()
	// Let B join the in-flight refresh before A gives up.
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("Get(canceled) error = %v, want %v", err, context.Canceled)
	}

	close(release)
	r := <-resB
	if r.err != nil || r.v != 7 {
		t.Errorf("Get() = %d, %v, want 7, nil", r.v, r.err)
	}
	if refreshErr != nil {
		t.Errorf("shared refresh saw cancellation: %v", refreshErr)
	}
}

func TestExpiring_PutResetsTTL(t *testing.T) {
	clock := newFakeClock()
	var calls int32
	c, _ := New(Config[string]{
		TTL:   10 * time.Second,
		Clock: clock,
		Refresh: func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "pulled", nil
		},
	})

	c.Put("pushed")
	clock.Advance(9 * time.Second)
	if got, _ := c.Get(context.Background()); got != "pushed" {
		t.Errorf("Get() = %q, want pushed", got)
	}
	if calls != 0 {
		t.Errorf("refresh calls = %d, want 0", calls)
	}
}

func TestExpiring_NotYetAvailableKeepsPrevious(t *testing.T) {
	clock := newFakeClock()
	var calls int32
	c, _ := New(Config[string]{
		TTL:   time.Second,
		Clock: clock,
		Refresh: func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", ErrNotYetAvailable
		},
	})

	if _, err := c.Get(context.Background()); !errors.Is(err, ErrNotYetAvailable) {
		t.Fatalf("Get() on empty cache error = %v, want ErrNotYetAvailable", err)
	}

	c.Put("pushed")
	clock.Advance(2 * time.Second)

	got, err := c.Get(context.Background())
	if err != nil || got != "pushed" {
		t.Fatalf("Get() = %q, %v, want pushed", got, err)
	}
	if calls != 2 {
		t.Errorf("refresh calls = %d, want 2", calls)
	}

	// The TTL restarted, so the next Get does not call refresh again.
	c.Get(context.Background())
	if calls != 2 {
		t.Errorf("refresh calls after restart = %d, want 2", calls)
	}
}

func TestExpiring_ErrorKeepsValueExpired(t *testing.T) {
	clock := newFakeClock()
	fail := false
	boom := errors.New("boom")
	c, _ := New(Config[int]{
		TTL:   time.Second,
		Clock: clock,
		Refresh: func(context.Context) (int, error) {
			if fail {
				return 0, boom
			}
			return 7, nil
		},
	})

	c.Get(context.Background())
	fail = true
	clock.Advance(2 * time.Second)

	if _, err := c.Get(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want boom", err)
	}
	if v, ok := c.Peek(); !ok || v != 7 {
		t.Errorf("Peek() = %d, %v, want 7, true", v, ok)
	}
}

func TestExpiring_RefreshAndInvalidate(t *testing.T) {
	var calls int32
	c, _ := New(Config[int]{
		TTL: time.Hour,
		Refresh: func(context.Context) (int, error) {
			return int(atomic.AddInt32(&calls, 1)), nil
		},
	})
	ctx := context.Background()

	c.Get(ctx)
	if v, _ := c.Refresh(ctx); v != 2 {
		t.Errorf("Refresh() = %d, want 2", v)
	}

	c.Invalidate()
	if v, _ := c.Get(ctx); v != 3 {
		t.Errorf("Get() after Invalidate = %d, want 3", v)
	}
	if v, _ := c.Get(ctx); v != 3 {
		t.Errorf("Get() = %d, want 3", v)
	}
}
