package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// ErrUnresolved is returned when an address has no usable PTR record.
var ErrUnresolved = errors.New("address did not resolve")

const (
	defaultResolvConf  = "/etc/resolv.conf"
	defaultMaxTTL      = 5 * time.Minute
	defaultNegativeTTL = 30 * time.Second
	defaultMaxEntries  = 1024
)

type ptrEntry struct {
	host   string
	expiry time.Time
}

// DNSResolver implements domain.HostResolver with PTR queries.
// Queries go to the first resolv.conf nameserver; without one, or when the
// query fails, it falls back to the system resolver. Answers and failures are
// cached (failures briefly) so every network poll does not hit DNS again.
type DNSResolver struct {
	client      *dns.Client
	nameserver  string
	maxTTL      time.Duration
	negativeTTL time.Duration
	maxEntries  int
	lookupAddr  func(ctx context.Context, ip string) ([]string, error)
	now         func() time.Time

	mu    sync.Mutex
	cache map[string]ptrEntry
}

// NewDNSResolver creates a resolver using the system's resolv.conf.
func NewDNSResolver(timeout time.Duration) *DNSResolver {
	nameserver := ""
	if conf, err := dns.ClientConfigFromFile(defaultResolvConf); err == nil && len(conf.Servers) > 0 {
		nameserver = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return NewDNSResolverWithNameserver(nameserver, timeout)
}

// NewDNSResolverWithNameserver creates a resolver that queries a specific
// nameserver ("host:port"). An empty nameserver uses only the system resolver.
func NewDNSResolverWithNameserver(nameserver string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSResolver{
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		nameserver:  nameserver,
		maxTTL:      defaultMaxTTL,
		negativeTTL: defaultNegativeTTL,
		maxEntries:  defaultMaxEntries,
		lookupAddr:  net.DefaultResolver.LookupAddr,
		now:         time.Now,
		cache:       make(map[string]ptrEntry),
	}
}

// ReverseLookup returns the hostname (without trailing dot) for ip.
func (r *DNSResolver) ReverseLookup(ctx context.Context, ip string) (string, error) {
	now := r.now()

	r.mu.Lock()
	if ent, ok := r.cache[ip]; ok && now.Before(ent.expiry) {
		r.mu.Unlock()
		if ent.host == "" {
			return "", fmt.Errorf("%s: %w (cached)", ip, ErrUnresolved)
		}
		return ent.host, nil
	}
	r.mu.Unlock()

	host, ttl, err := r.resolve(ctx, ip)
	if err != nil {
		if ctx.Err() == nil {
			r.store(ip, "", now.Add(r.negativeTTL))
		}
		return "", err
	}
	r.store(ip, host, now.Add(ttl))
	return host, nil
}

func (r *DNSResolver) resolve(ctx context.Context, ip string) (string, time.Duration, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", 0, fmt.Errorf("reverse addr %s: %w", ip, err)
	}

	if r.nameserver != "" {
		if host, ttl, ok := r.queryPTR(ctx, arpa); ok {
			return host, ttl, nil
		}
	}

	names, err := r.lookupAddr(ctx, ip)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w: %v", ip, ErrUnresolved, err)
	}
	for _, n := range names {
		if host := strings.TrimSuffix(n, "."); host != "" {
			return host, r.maxTTL, nil
		}
	}
	return "", 0, fmt.Errorf("%s: %w", ip, ErrUnresolved)
}

func (r *DNSResolver) queryPTR(ctx context.Context, arpa string) (string, time.Duration, bool) {
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return "", 0, false
	}
	for _, ans := range resp.Answer {
		ptr, ok := ans.(*dns.PTR)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(ptr.Ptr, ".")
		if host == "" {
			continue
		}
		ttl := time.Duration(ptr.Hdr.Ttl) * time.Second
		if ttl <= 0 || ttl > r.maxTTL {
			ttl = r.maxTTL
		}
		return host, ttl, true
	}
	return "", 0, false
}

func (r *DNSResolver) store(ip, host string, expiry time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cache[ip]; !exists && len(r.cache) >= r.maxEntries {
		// simple eviction: drop the entry closest to expiry
		var oldestKey string
		var oldest time.Time
		for k, v := range r.cache {
			if oldestKey == "" || v.expiry.Before(oldest) {
				oldest = v.expiry
				oldestKey = k
			}
		}
		delete(r.cache, oldestKey)
	}
	r.cache[ip] = ptrEntry{host: host, expiry: expiry}
}

// CacheLen returns the number of cached addresses.
func (r *DNSResolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Ensure DNSResolver implements domain.HostResolver.
var _ domain.HostResolver = (*DNSResolver)(nil)
