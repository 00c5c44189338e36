package session

import (
	"context"
	"encoding/json"

	"github.com/backkem/miio/pkg/message"
)

// link is one protocol binding to a device. A link owns its socket; the
// counter it uses belongs to the Manager and outlives it.
type link interface {
	// Sync runs the counter sync exchange.
	message.Syncer

	// Ping probes device liveness.
	Ping(ctx context.Context) error

	// Identify reads the device information block.
	Identify(ctx context.Context) (*message.DeviceInfo, error)

	// Call sends one command and returns its raw result.
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

	// Close releases the socket.
	Close() error
}

// handshake brings a fresh link up: a liveness probe and a counter sync,
// in the configured order.
func handshake(ctx context.Context, l link, counter *message.SyncCounter, order HandshakeOrder) error {
	sync := func() error {
		_, err := counter.Synchronize(ctx, l)
		return err
	}

	steps := []func() error{func() error { return l.Ping(ctx) }, sync}
	if order == SyncThenPing {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
