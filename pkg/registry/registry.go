// Package registry is Nexus's thread-safe backend store: a map of backend
// id -> *Backend guarded by a coarse lock for insert and remove, a
// model-index lock held for insert, remove and model-list replacement, a
// per-backend lock on each model list, plus per-backend atomics for hot-path
// fields (status, latency, pending count), grounded on the teacher's
// pkg/router/queue.go QueueManager locking shape and pkg/backends/backend.go
// field set, generalized to spec's Backend/Model data model.
package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is a backend's health state as tracked by the registry.
type Status int32

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// BackendType enumerates the vendor dialects Nexus fronts.
type BackendType string

const (
	Ollama   BackendType = "ollama"
	VLLM     BackendType = "vllm"
	LlamaCpp BackendType = "llamacpp"
	Exo      BackendType = "exo"
	OpenAI   BackendType = "openai"
	LMStudio BackendType = "lmstudio"
	Generic  BackendType = "generic"
)

// IsLocal reports whether this backend type is treated as local/self-hosted
// for budget hard-limit "local only" enforcement (spec 4.G).
func (t BackendType) IsLocal() bool {
	switch t {
	case Ollama, VLLM, LlamaCpp, Exo, LMStudio:
		return true
	default:
		return false
	}
}

// DiscoverySource records how a backend entered the registry.
type DiscoverySource int

const (
	Static DiscoverySource = iota
	MDNS
)

func (d DiscoverySource) String() string {
	if d == MDNS {
		return "mdns"
	}
	return "static"
}

// Model describes one served model and its routing-relevant capabilities.
type Model struct {
	ID               string
	Name             string
	ContextLength    int
	SupportsVision   bool
	SupportsTools    bool
	SupportsJSONMode bool
	MaxOutputTokens  int // 0 means unset
}

// Backend is one registered inference endpoint. Hot-path fields (status,
// latency, pending) live behind atomics so health-checker writes and router
// reads never block each other. The model list is guarded by the backend's
// own RWMutex and is replaced only while the owning Registry's model-index
// lock is held; Registry methods never write Metadata.
type Backend struct {
	ID              string
	Name            string
	URL             string
	Type            BackendType
	Priority        int
	DiscoverySource DiscoverySource
	Metadata        map[string]string

	status          atomic.Int32
	lastError       atomic.Value // string
	avgLatencyMs    atomic.Int64
	pendingRequests atomic.Int64

	mu     sync.RWMutex
	models []Model
}

func (b *Backend) Status() Status {
	return Status(b.status.Load())
}

func (b *Backend) LastError() string {
	if v, ok := b.lastError.Load().(string); ok {
		return v
	}
	return ""
}

func (b *Backend) AvgLatencyMs() int64 {
	return b.avgLatencyMs.Load()
}

func (b *Backend) PendingRequests() int64 {
	return b.pendingRequests.Load()
}

// Models returns a snapshot copy of the backend's model list.
func (b *Backend) Models() []Model {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Model, len(b.models))
	copy(out, b.models)
	return out
}

// HasModel reports whether the backend advertises a model with the given id.
func (b *Backend) HasModel(modelID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// Snapshot returns an immutable value copy of the backend, safe to hold
// across goroutines without further locking.
func (b *Backend) Snapshot() Backend {
	clone := Backend{
		ID:              b.ID,
		Name:            b.Name,
		URL:             b.URL,
		Type:            b.Type,
		Priority:        b.Priority,
		DiscoverySource: b.DiscoverySource,
		Metadata:        cloneMeta(b.Metadata),
	}
	clone.status.Store(b.status.Load())
	clone.lastError.Store(b.LastError())
	clone.avgLatencyMs.Store(b.avgLatencyMs.Load())
	clone.pendingRequests.Store(b.pendingRequests.Load())
	clone.models = b.Models()
	return clone
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewBackend constructs a Backend with a generated id when none is supplied.
func NewBackend(id, name, url string, backendType BackendType, priority int, source DiscoverySource) *Backend {
	if id == "" {
		id = uuid.NewString()
	}
	b := &Backend{
		ID:              id,
		Name:            name,
		URL:             normalizeURL(url),
		Type:            backendType,
		Priority:        priority,
		DiscoverySource: source,
		Metadata:        make(map[string]string),
	}
	b.lastError.Store("")
	return b
}

func normalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ErrDuplicate is returned by AddBackend when the id or normalized URL is
// already registered.
type ErrDuplicate struct {
	ID  string
	URL string
}

func (e *ErrDuplicate) Error() string {
	return "duplicate backend: id=" + e.ID + " url=" + e.URL
}

// Registry is the concurrent backend store. The model index (modelID ->
// set of backend IDs) is maintained under modelMu, taken for writing on
// insert, remove, and UpdateModels and briefly by GetBackendsForModel to
// read the index.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend

	modelMu    sync.Mutex
	modelIndex map[string]map[string]struct{} // modelID -> set<backendID>
}

func New() *Registry {
	return &Registry{
		backends:   make(map[string]*Backend),
		modelIndex: make(map[string]map[string]struct{}),
	}
}

// AddBackend inserts a backend if neither its id nor normalized URL collide
// with an existing entry, and indexes its initial model list.
func (r *Registry) AddBackend(b *Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.ID]; exists {
		return &ErrDuplicate{ID: b.ID, URL: b.URL}
	}
	for _, existing := range r.backends {
		if existing.URL == b.URL {
			return &ErrDuplicate{ID: b.ID, URL: b.URL}
		}
	}

	r.backends[b.ID] = b

	r.modelMu.Lock()
	r.indexModelsLocked(b.ID, b.Models())
	r.modelMu.Unlock()

	return nil
}

// RemoveBackend deletes a backend and purges its model-index entries.
func (r *Registry) RemoveBackend(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; !exists {
		return
	}
	delete(r.backends, id)

	r.modelMu.Lock()
	r.purgeModelIndexLocked(id)
	r.modelMu.Unlock()
}

// GetBackend returns a snapshot of the backend, or false if not present.
func (r *Registry) GetBackend(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[id]
	if !exists {
		return Backend{}, false
	}
	return b.Snapshot(), true
}

// getLive returns the live *Backend (not a snapshot) for internal atomic
// updates; callers must not retain it beyond the call.
func (r *Registry) getLive(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, exists := r.backends[id]
	return b, exists
}

// GetAllBackends returns snapshots of every registered backend.
func (r *Registry) GetAllBackends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b.Snapshot())
	}
	return out
}

// HasBackendURL reports whether a backend with this (normalized) URL exists.
func (r *Registry) HasBackendURL(url string) bool {
	url = normalizeURL(url)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.URL == url {
			return true
		}
	}
	return false
}

// FindByMDNSInstance returns the backend id whose metadata["mdns_instance"]
// matches, if any.
func (r *Registry) FindByMDNSInstance(instance string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, b := range r.backends {
		if b.Metadata["mdns_instance"] == instance {
			return id, true
		}
	}
	return "", false
}

// GetBackendsForModel returns snapshots of all backends advertising the
// given model id, via the secondary index.
func (r *Registry) GetBackendsForModel(modelID string) []Backend {
	r.modelMu.Lock()
	ids := r.modelIndex[modelID]
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	r.modelMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(idList))
	for _, id := range idList {
		if b, exists := r.backends[id]; exists {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

// UpdateStatus sets status and last_error atomically; idempotent for the
// same status (still refreshes last_error on repeated Unhealthy calls).
func (r *Registry) UpdateStatus(id string, status Status, lastErr string) {
	b, exists := r.getLive(id)
	if !exists {
		return
	}
	b.status.Store(int32(status))
	b.lastError.Store(lastErr)
}

// UpdateModels replaces a backend's model list and rebuilds its index
// entries, maintaining the invariant that the index never lags behind
// Models() within the same critical section.
func (r *Registry) UpdateModels(id string, models []Model) {
	b, exists := r.getLive(id)
	if !exists {
		return
	}

	r.modelMu.Lock()
	defer r.modelMu.Unlock()

	b.mu.Lock()
	b.models = append([]Model(nil), models...)
	b.mu.Unlock()

	r.purgeModelIndexLocked(id)
	r.indexModelsLocked(id, models)
}

// UpdateLatency sets the backend's observed latency in milliseconds.
func (r *Registry) UpdateLatency(id string, ms int64) {
	b, exists := r.getLive(id)
	if !exists {
		return
	}
	b.avgLatencyMs.Store(ms)
}

// IncrementPending bumps a backend's in-flight request counter.
func (r *Registry) IncrementPending(id string) {
	b, exists := r.getLive(id)
	if !exists {
		return
	}
	b.pendingRequests.Add(1)
}

// DecrementPending lowers the in-flight counter, saturating at zero.
func (r *Registry) DecrementPending(id string) {
	b, exists := r.getLive(id)
	if !exists {
		return
	}
	for {
		cur := b.pendingRequests.Load()
		if cur <= 0 {
			return
		}
		if b.pendingRequests.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// indexModelsLocked adds index entries for models; caller holds modelMu.
func (r *Registry) indexModelsLocked(backendID string, models []Model) {
	for _, m := range models {
		set, ok := r.modelIndex[m.ID]
		if !ok {
			set = make(map[string]struct{})
			r.modelIndex[m.ID] = set
		}
		set[backendID] = struct{}{}
	}
}

// purgeModelIndexLocked removes every index reference to backendID; caller
// holds modelMu.
func (r *Registry) purgeModelIndexLocked(backendID string) {
	for modelID, set := range r.modelIndex {
		delete(set, backendID)
		if len(set) == 0 {
			delete(r.modelIndex, modelID)
		}
	}
}
