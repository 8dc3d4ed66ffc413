package resolve

import (
	"sync"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/policy"
)

// Session is the per-connection resolution scope. It owns the document
// cache and the project binding; both change only through its methods.
type Session struct {
	ID    string
	Cache *cache.Cache

	mu        sync.RWMutex
	global    policy.Policy
	catalog   *catalog.Catalog
	policy    policy.Policy
	clientCwd string
	client    fetch.ClientTransport
}

// NewSession creates a session with no project bound yet.
func NewSession(id string, global policy.Policy, c *cache.Cache) *Session {
	if c == nil {
		c = cache.New(cache.Options{})
	}
	return &Session{
		ID:     id,
		Cache:  c,
		global: global,
		policy: policy.Effective(global, nil),
	}
}

// view is an immutable snapshot taken at the start of one resolution.
type view struct {
	catalog   *catalog.Catalog
	gate      *policy.Gate
	epoch     string
	clientCwd string
	client    fetch.ClientTransport
}

func (s *Session) snapshot() view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{
		catalog:   s.catalog,
		gate:      policy.NewGate(s.policy, s.clientCwd),
		epoch:     s.policy.Epoch(),
		clientCwd: s.clientCwd,
		client:    s.client,
	}
}

// Catalog returns the bound project's catalog, or nil.
func (s *Session) Catalog() *catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Policy returns the effective policy.
func (s *Session) Policy() policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Session) ClientCwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCwd
}

// SetClient attaches the transport used to fetch client documents and the
// agent's working directory.
func (s *Session) SetClient(t fetch.ClientTransport, cwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = t
	s.clientCwd = cwd
}

// SetClientCwd replaces the agent's working directory.
func (s *Session) SetClientCwd(cwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCwd = cwd
}

// SwitchProject binds cat and clears the cache. The project's policy, if
// any, replaces the global one. Returns the number of dropped entries.
func (s *Session) SwitchProject(cat *catalog.Catalog) int {
	s.mu.Lock()
	s.catalog = cat
	s.policy = s.effectiveLocked(cat)
	s.mu.Unlock()
	return s.Cache.InvalidateProjectSwitch()
}

// ReloadCatalog swaps in an edited catalog of the same project without
// clearing the cache. When the policy changed, cached denials are dropped.
func (s *Session) ReloadCatalog(cat *catalog.Catalog) (policyChanged bool) {
	s.mu.Lock()
	before := s.policy.Epoch()
	s.catalog = cat
	s.policy = s.effectiveLocked(cat)
	policyChanged = s.policy.Epoch() != before
	s.mu.Unlock()
	if policyChanged {
		s.Cache.InvalidatePolicyDenials()
	}
	return policyChanged
}

func (s *Session) effectiveLocked(cat *catalog.Catalog) policy.Policy {
	var project *policy.Policy
	if cat != nil {
		project = policy.FromCatalog(cat.Policy)
	}
	return policy.Effective(s.global, project)
}

// Close ends the session and empties its cache.
func (s *Session) Close() {
	s.Cache.InvalidateSession()
}
