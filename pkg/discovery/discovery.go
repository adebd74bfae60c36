// Package discovery is Nexus's passive mDNS listener (spec 4.E). It browses
// a configured set of service types with github.com/hashicorp/mdns, diffs
// each browse round against the previously seen instance set to synthesize
// ServiceFound/ServiceRemoved events (hashicorp/mdns exposes one-shot
// queries, not a subscription; the diff-per-round loop is Nexus's adapter
// over it), and reconciles those events into the registry with a
// grace-period removal protocol. Grounded on the teacher's pkg/health probe
// loop for the "ticker + cancellation select" run shape and pkg/logging for
// transition logging; all discovery failures are logged and swallowed per
// spec's "failure semantics" note.
package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/metrics"
	"github.com/normanking/nexus/pkg/registry"
)

// Config mirrors spec 6's [discovery] block.
type Config struct {
	Enabled            bool
	ServiceTypes       []string
	GracePeriodSeconds int
}

// NormalizeServiceTypes appends a trailing dot to any service type missing
// one, per spec 4.A/4.E.
func NormalizeServiceTypes(types []string) []string {
	out := make([]string, len(types))
	for i, t := range types {
		if strings.HasSuffix(t, ".") {
			out[i] = t
		} else {
			out[i] = t + "."
		}
	}
	return out
}

// serviceFound is the internal event for a newly (re)discovered instance.
type serviceFound struct {
	instance    string
	serviceType string
	addresses   []net.IP
	port        int
	txt         map[string]string
}

// serviceRemoved is the internal event for an instance that dropped out of
// a browse round.
type serviceRemoved struct {
	instance string
}

// Listener owns the pending-removal map and drives the browse + cleanup
// loops.
type Listener struct {
	reg *registry.Registry
	cfg Config

	mu     sync.Mutex
	seen   map[string]struct{} // instance -> present, last round
	pending map[string]time.Time // instance -> removal deadline
}

func New(reg *registry.Registry, cfg Config) *Listener {
	return &Listener{
		reg:     reg,
		cfg:     cfg,
		seen:    make(map[string]struct{}),
		pending: make(map[string]time.Time),
	}
}

// Run starts the browse and cleanup loops and blocks until ctx is done; it
// returns at once when discovery is disabled. A failed mDNS query is logged
// as a warning by browseOnce and the loops keep running: Run does not return
// early when mDNS setup or a browse fails.
func (l *Listener) Run(ctx context.Context) {
	if !l.cfg.Enabled {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.browseLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		l.cleanupLoop(ctx)
	}()
	wg.Wait()
}

func (l *Listener) browseLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	types := NormalizeServiceTypes(l.cfg.ServiceTypes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			roundSeen := make(map[string]struct{})
			for _, st := range types {
				for _, ev := range l.browseOnce(ctx, st) {
					roundSeen[ev.instance] = struct{}{}
					l.handleServiceFound(ev)
				}
			}
			l.reconcileMissing(roundSeen)
		}
	}
}

// browseOnce runs a single bounded mDNS query for one service type and
// converts entries into serviceFound events, parsing TXT fields along the
// way. All transport errors are logged and swallowed.
func (l *Listener) browseOnce(ctx context.Context, serviceType string) []serviceFound {
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service: strings.TrimSuffix(serviceType, "."),
		Timeout: 2 * time.Second,
		Entries: entriesCh,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mdns.Query(params); err != nil {
			logging.Warn("mdns query failed", zap.String("service_type", serviceType), zap.Error(err))
		}
	}()

	var events []serviceFound
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				<-done
				return events
			}
			if entry == nil {
				continue
			}
			events = append(events, serviceFound{
				instance:    entry.Name,
				serviceType: serviceType,
				addresses:   addressesOf(entry),
				port:        entry.Port,
				txt:         parseTXT(entry.InfoFields, serviceType),
			})
		case <-done:
			return events
		case <-ctx.Done():
			return events
		}
	}
}

func addressesOf(entry *mdns.ServiceEntry) []net.IP {
	var addrs []net.IP
	if entry.AddrV4 != nil {
		addrs = append(addrs, entry.AddrV4)
	}
	if entry.AddrV6 != nil {
		addrs = append(addrs, entry.AddrV6)
	}
	return addrs
}

// parseTXT is the pure TXT-record parser from spec 4.E.
func parseTXT(fields []string, serviceType string) map[string]string {
	out := map[string]string{
		"type":     inferTypeFromService(serviceType),
		"api_path": defaultAPIPath(inferTypeFromService(serviceType)),
	}
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "type":
			out["type"] = strings.ToLower(v)
			out["api_path"] = defaultAPIPath(out["type"])
		case "api_path":
			out["api_path"] = v
		case "version":
			out["version"] = v
		}
	}
	return out
}

func inferTypeFromService(serviceType string) string {
	if strings.Contains(serviceType, "_ollama.") {
		return "ollama"
	}
	return "generic"
}

func defaultAPIPath(backendType string) string {
	if backendType == "ollama" {
		return ""
	}
	return "/v1"
}

func backendTypeFromTXT(raw string) registry.BackendType {
	switch strings.ToLower(raw) {
	case "ollama":
		return registry.Ollama
	case "vllm":
		return registry.VLLM
	case "llamacpp":
		return registry.LlamaCpp
	case "exo":
		return registry.Exo
	case "openai":
		return registry.OpenAI
	case "lmstudio":
		return registry.LMStudio
	default:
		return registry.Generic
	}
}

// toBackend converts a serviceFound event into a registry.Backend, per
// spec 4.E's "service-to-backend conversion" rules. Returns false if the
// event carries no usable address.
func toBackend(ev serviceFound) (*registry.Backend, bool) {
	if len(ev.addresses) == 0 {
		return nil, false
	}

	var host string
	var v4, v6 net.IP
	for _, a := range ev.addresses {
		if a.To4() != nil && v4 == nil {
			v4 = a
		} else if v6 == nil {
			v6 = a
		}
	}
	switch {
	case v4 != nil:
		host = v4.String()
	case v6 != nil:
		host = "[" + v6.String() + "]"
	default:
		return nil, false
	}

	url := "http://" + host + ":" + itoa(ev.port) + ev.txt["api_path"]
	name := strings.ReplaceAll(strings.SplitN(ev.instance, ".", 2)[0], "_", " ")

	b := registry.NewBackend(uuid.NewString(), name, url, backendTypeFromTXT(ev.txt["type"]), 0, registry.MDNS)
	b.Metadata["mdns_instance"] = ev.instance
	if v, ok := ev.txt["version"]; ok {
		b.Metadata["version"] = v
	}
	return b, true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// handleServiceFound implements spec 4.E's ServiceFound handling.
func (l *Listener) handleServiceFound(ev serviceFound) {
	l.mu.Lock()
	if _, isPending := l.pending[ev.instance]; isPending {
		delete(l.pending, ev.instance)
	}
	l.seen[ev.instance] = struct{}{}
	l.mu.Unlock()

	b, ok := toBackend(ev)
	if !ok {
		return
	}

	if l.reg.HasBackendURL(b.URL) {
		logging.Debug("mdns backend skipped, static config wins",
			zap.String("instance", ev.instance), zap.String("url", b.URL))
		return
	}

	if err := l.reg.AddBackend(b); err != nil {
		// Already present under this id/URL from a previous round; not an error.
		return
	}
	metrics.RecordDiscoveryEvent("found")
	logging.Info("mdns backend discovered",
		zap.String("instance", ev.instance), zap.String("url", b.URL))
}

// reconcileMissing marks instances seen in a previous round but absent from
// the current round as removed, per spec 4.E's ServiceRemoved handling.
func (l *Listener) reconcileMissing(roundSeen map[string]struct{}) {
	l.mu.Lock()
	var missing []string
	for instance := range l.seen {
		if _, stillSeen := roundSeen[instance]; !stillSeen {
			missing = append(missing, instance)
		}
	}
	for _, instance := range missing {
		delete(l.seen, instance)
	}
	l.mu.Unlock()

	for _, instance := range missing {
		l.handleServiceRemoved(serviceRemoved{instance: instance})
	}
}

func (l *Listener) handleServiceRemoved(ev serviceRemoved) {
	id, found := l.reg.FindByMDNSInstance(ev.instance)
	if !found {
		return
	}

	l.reg.UpdateStatus(id, registry.StatusUnknown, "disappeared from mDNS")

	l.mu.Lock()
	l.pending[ev.instance] = time.Now().Add(time.Duration(l.cfg.GracePeriodSeconds) * time.Second)
	l.mu.Unlock()

	metrics.RecordDiscoveryEvent("removed")
	logging.Info("mdns backend marked pending removal",
		zap.String("instance", ev.instance), zap.String("backend_id", id))
}

func (l *Listener) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepPending()
		}
	}
}

func (l *Listener) sweepPending() {
	now := time.Now()

	l.mu.Lock()
	var expired []string
	for instance, deadline := range l.pending {
		if now.After(deadline) {
			expired = append(expired, instance)
		}
	}
	for _, instance := range expired {
		delete(l.pending, instance)
	}
	l.mu.Unlock()

	for _, instance := range expired {
		id, found := l.reg.FindByMDNSInstance(instance)
		if !found {
			continue
		}
		l.reg.RemoveBackend(id)
		metrics.RecordDiscoveryEvent("expired")
		logging.Info("mdns backend removed after grace period", zap.String("instance", instance))
	}
}
