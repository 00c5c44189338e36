package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// Device is a miio device found on the network.
type Device struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// Model is the device model decoded from the instance name.
	Model string

	// DeviceID is the device id decoded from the instance name.
	DeviceID uint32

	// HostName is the target host name.
	HostName string

	// Port is the advertised port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the TXT record key-value pairs.
	Text map[string]string
}

// PreferredIP returns the most preferred IP address, or nil.
func (d *Device) PreferredIP() net.IP {
	if len(d.IPs) > 0 {
		return d.IPs[0]
	}
	return nil
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers miio devices via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers miio devices on the network. The returned channel
// receives devices until the context is canceled or the browse timeout
// expires. Services whose instance name cannot be decoded are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan Device, error) {
	results := make(chan Device)
	entries := make(chan *zeroconf.ServiceEntry)

	ctx, cancel := r.withTimeout(ctx, r.config.BrowseTimeout)

	go func() {
		defer close(entries)
		if err := r.resolver.Browse(ctx, ServiceMiio, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Debugf("browse %s: %v", ServiceMiio, err)
		}
	}()

	go func() {
		defer cancel()
		defer close(results)

		for entry := range entries {
			d, err := r.entryToDevice(entry)
			if err != nil {
				continue
			}
			select {
			case results <- d:
			case <-ctx.Done():
				// Drain so the browse goroutine can finish.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// Lookup finds the device with deviceID. The instance name embeds the
// model, which the caller does not know, so the lookup browses and
// filters.
func (r *Resolver) Lookup(ctx context.Context, deviceID uint32) (*Device, error) {
	ctx, cancel := r.withTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	devices, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for d := range devices {
		if d.DeviceID == deviceID {
			return &d, nil
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrServiceNotFound
}

// LookupInstance resolves one instance name directly.
func (r *Resolver) LookupInstance(ctx context.Context, instance string) (*Device, error) {
	if _, _, err := ParseInstanceName(instance); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instance, ServiceMiio, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		d, err := r.entryToDevice(entry)
		if err != nil {
			return nil, err
		}
		go func() {
			for range entries {
			}
		}()
		return &d, nil
	case <-ctx.Done():
		go func() {
			for range entries {
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// withTimeout applies d if ctx has no deadline.
func (r *Resolver) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// entryToDevice converts a zeroconf.ServiceEntry to a Device.
func (r *Resolver) entryToDevice(entry *zeroconf.ServiceEntry) (Device, error) {
	model, id, err := ParseInstanceName(entry.Instance)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("skipping %q: %v", entry.Instance, err)
		}
		return Device{}, err
	}

	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	if r.log != nil {
		r.log.Debugf("found %s id %d at %v", model, id, ips)
	}
	return Device{
		InstanceName: entry.Instance,
		Model:        model,
		DeviceID:     id,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(ips),
		Text:         ParseTXT(entry.Text),
	}, nil
}
