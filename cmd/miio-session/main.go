// miio-session connects to a miio or CoAP push device, identifies it and
// reads its status, sends a command, or watches it.
//
// Usage:
//
//	miio-session [options]
//
// Examples:
//
//	miio-session -host 192.168.1.20 -token 00112233445566778899aabbccddeeff
//	miio-session -id 68911405 -token ... -command 'set_power["on"]'
//	miio-session -host 192.168.1.30 -protocol coap -token ... -exec power=off
//	miio-session -host 192.168.1.20 -token ... -watch -storage session.cbor
//	miio-session -discover
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/backkem/miio/examples/common"
	"github.com/backkem/miio/pkg/session"
)

func main() {
	opts := common.ParseFlags()
	if err := opts.Validate(); err != nil {
		common.PrintUsage()
		log.Fatal(err)
	}

	lf, err := common.NewLoggerFactory(opts.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	if opts.Discover {
		if err := common.Discover(ctx, lf); err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		return
	}

	m, err := common.CreateManager(ctx, opts, lf)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	if opts.Watch {
		if err := common.WatchSession(m); err != nil {
			log.Fatalf("Session error: %v", err)
		}
		return
	}

	if err := run(ctx, m, opts); err != nil {
		log.Fatal(err)
	}
}

// run performs a one-shot exchange. The session is disconnected on every
// path so the counter is persisted.
func run(ctx context.Context, m *session.Manager, opts common.Options) error {
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer m.Disconnect()

	if err := m.Identify(ctx); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	common.PrintInfo(m)

	switch {
	case opts.Command != "":
		result, err := m.SendRaw(ctx, opts.Command)
		if err != nil {
			return fmt.Errorf("command: %w", err)
		}
		fmt.Printf("Result: %s\n", result)

	case opts.Exec != "":
		channel, value, err := common.SplitExec(opts.Exec)
		if err != nil {
			return err
		}
		if err := m.Execute(ctx, channel, value); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if s, ok := m.LastStatus(); ok {
			common.PrintSnapshot(s)
		}

	default:
		s, err := m.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		common.PrintSnapshot(s)
	}
	return nil
}
