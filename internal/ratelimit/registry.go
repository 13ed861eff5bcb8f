package ratelimit

import (
	"sync"
)

// ServiceLimit is the configured limit for one named service.
type ServiceLimit struct {
	Limit         int64
	WindowSeconds int
}

// Registry is the process-wide registry keyed by service name described
// in spec §5. It is constructed at run start and discarded at run end
// (lifecycle-scoped, not an ambient singleton) and handed to plugins
// through PluginContext rather than looked up globally.
type Registry struct {
	mu       sync.RWMutex
	limiter  *Limiter
	services map[string]ServiceLimit
}

// NewRegistry builds a Registry backed by limiter with no services
// configured; callers populate it via Register before run start.
func NewRegistry(limiter *Limiter) *Registry {
	return &Registry{limiter: limiter, services: map[string]ServiceLimit{}}
}

// Register declares the limit for a named service (e.g. an LLM provider
// or downstream HTTP API).
func (r *Registry) Register(service string, limit ServiceLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = limit
}

// Lookup returns the configured limit for service, or ok=false if no
// limit was registered (plugins should treat that as unbounded).
func (r *Registry) Lookup(service string) (ServiceLimit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.services[service]
	return l, ok
}

// Limiter returns the shared atomic limiter used to enforce whatever
// service-level limit the caller resolved via Lookup.
func (r *Registry) Limiter() *Limiter {
	return r.limiter
}
