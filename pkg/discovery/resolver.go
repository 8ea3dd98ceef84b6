package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService contains information about a discovered verifier.
type ResolvedService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// TXT is the parsed TXT record.
	TXT ServiceTXT
}

// PreferredIP returns the most preferred IP address (first in the sorted list).
// Returns nil if no addresses are available.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// Addr returns host:port for dialing the preferred address, falling back to
// the host name.
func (r *ResolvedService) Addr() string {
	host := r.HostName
	if ip := r.PreferredIP(); ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(r.Port))
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

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers Pico verifiers via DNS-SD.
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

// Browse discovers verifiers on the network. The returned channel receives
// services with a valid TXT record until the context is cancelled or the
// browse timeout expires.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedService, error) {
	results := make(chan ResolvedService)

	// Apply browse timeout if context doesn't have a deadline
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	// The entries channel is left open: zeroconf closes it itself when
	// the browse ends.
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.resolver.Browse(ctx, ServicePico, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Debugf("browse: %v", err)
		}
	}()

	go func() {
		defer close(results)
		defer cancel()

		for {
			var entry *zeroconf.ServiceEntry
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				entry = e
			case <-done:
				return
			case <-ctx.Done():
				return
			}

			svc, err := r.resolve(entry)
			if err != nil {
				continue
			}
			select {
			case results <- svc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// Lookup looks up a verifier by instance name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	// Apply lookup timeout if context doesn't have a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.resolver.Lookup(ctx, instanceName, ServicePico, DefaultDomain, entries)
	}()

	var entry *zeroconf.ServiceEntry
	select {
	case e, ok := <-entries:
		if ok {
			entry = e
		}
	case <-done:
		// A synchronous resolver may have delivered before returning.
		select {
		case e, ok := <-entries:
			if ok {
				entry = e
			}
		default:
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
	if entry == nil {
		return nil, ErrServiceNotFound
	}
	svc, err := r.resolve(entry)
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// FindByCommitment browses until a verifier advertising commitment is found.
func (r *Resolver) FindByCommitment(ctx context.Context, commitment []byte) (*ResolvedService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range services {
		if crypto.CommitmentEqual(svc.TXT.Commitment, commitment) {
			return &svc, nil
		}
	}
	return nil, ErrServiceNotFound
}

// resolve converts a zeroconf.ServiceEntry to a ResolvedService.
func (r *Resolver) resolve(entry *zeroconf.ServiceEntry) (ResolvedService, error) {
	txt, err := ParseServiceTXT(entry.Text)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("ignoring %q: %v", entry.Instance, err)
		}
		return ResolvedService{}, err
	}

	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv6...)
	allIPs = append(allIPs, entry.AddrIPv4...)

	return ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		TXT:          *txt,
	}, nil
}
