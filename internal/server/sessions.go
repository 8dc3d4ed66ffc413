package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/policy"
	"github.com/HendryAvila/docket/internal/resolve"
	"github.com/HendryAvila/docket/internal/transport"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Global   policy.Policy
	Catalogs catalog.Store
	// Store is the optional persistent document store shared by every
	// session's cache.
	Store cache.Store
	// DefaultRoot is the project bound to new sessions when it has a
	// catalog. Empty means sessions start unbound.
	DefaultRoot string
	Logger      *zap.Logger
}

// Registry owns every live resolution session and the catalog watchers of
// the projects they are bound to.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*binding
	watchers map[string]*projectWatch
	fallback *binding

	global      policy.Policy
	catalogs    catalog.Store
	store       cache.Store
	defaultRoot string
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type binding struct {
	sess *resolve.Session
	root string
	// ready is closed once the default project bind has been attempted.
	ready chan struct{}
}

type projectWatch struct {
	w    *catalog.Watcher
	refs int
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:    make(map[string]*binding),
		watchers:    make(map[string]*projectWatch),
		global:      opts.Global,
		catalogs:    opts.Catalogs,
		store:       opts.Store,
		defaultRoot: opts.DefaultRoot,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Hooks returns mcp-go hooks that create a session when a client connects
// and end it when the client goes away.
func (r *Registry) Hooks() *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, cs mcpserver.ClientSession) {
		r.Register(cs.SessionID(), clientTransport(cs, r.logger))
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, cs mcpserver.ClientSession) {
		r.Unregister(cs.SessionID())
	})
	return hooks
}

// clientTransport returns the sampling transport of cs, or nil when the
// client cannot serve files.
func clientTransport(cs mcpserver.ClientSession, logger *zap.Logger) fetch.ClientTransport {
	sc, ok := cs.(mcpserver.SessionWithSampling)
	if !ok {
		return nil
	}
	return transport.NewSampling(sc, transport.SamplingOptions{Logger: logger.Named("transport")})
}

// Register creates the session for id, binding the default project when
// it has a catalog. Registering an existing id returns its session.
func (r *Registry) Register(id string, t fetch.ClientTransport) *resolve.Session {
	r.mu.Lock()
	if b, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		<-b.ready
		return b.sess
	}
	b := r.newBindingLocked(id, t)
	r.sessions[id] = b
	r.mu.Unlock()

	r.logger.Info("session started", zap.String("session", b.sess.ID))
	r.bindDefault(b.sess)
	close(b.ready)
	return b.sess
}

func (r *Registry) newBindingLocked(id string, t fetch.ClientTransport) *binding {
	sessID := id
	if sessID == "" {
		sessID = uuid.NewString()
	}
	c := cache.New(cache.Options{Store: r.store, Logger: r.logger.Named("cache").With(zap.String("session", sessID))})
	sess := resolve.NewSession(sessID, r.global, c)
	sess.SetClient(t, r.defaultRoot)
	return &binding{sess: sess, ready: make(chan struct{})}
}

func (r *Registry) bindDefault(sess *resolve.Session) {
	if r.defaultRoot == "" {
		return
	}
	if _, _, err := r.Bind(sess, r.defaultRoot, ""); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		r.logger.Warn("default project not bound", zap.String("root", r.defaultRoot), zap.Error(err))
	}
}

// Unregister ends the session for id and empties its cache.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	b, ok := r.sessions[id]
	var stale *catalog.Watcher
	if ok {
		delete(r.sessions, id)
		stale = r.releaseLocked(b.root)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.closeWatcher(b.root, stale)
	b.sess.Close()
	r.logger.Info("session ended", zap.String("session", b.sess.ID))
}

// Session returns the session of the client behind ctx. Calls without a
// client session share one fallback session.
func (r *Registry) Session(ctx context.Context) *resolve.Session {
	cs := mcpserver.ClientSessionFromContext(ctx)
	if cs == nil {
		r.mu.Lock()
		b := r.fallback
		created := b == nil
		if created {
			b = r.newBindingLocked("", nil)
			r.fallback = b
		}
		r.mu.Unlock()
		if created {
			r.bindDefault(b.sess)
			close(b.ready)
		}
		<-b.ready
		return b.sess
	}

	r.mu.Lock()
	b, ok := r.sessions[cs.SessionID()]
	r.mu.Unlock()
	if ok {
		<-b.ready
		return b.sess
	}
	return r.Register(cs.SessionID(), clientTransport(cs, r.logger))
}

// Len reports the number of registered client sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session and stops every watcher.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*binding
	for id, b := range r.sessions {
		all = append(all, b)
		delete(r.sessions, id)
	}
	if r.fallback != nil {
		all = append(all, r.fallback)
		r.fallback = nil
	}
	watchers := r.watchers
	r.watchers = make(map[string]*projectWatch)
	r.mu.Unlock()

	r.cancel()
	for root, pw := range watchers {
		r.closeWatcher(root, pw.w)
	}
	for _, b := range all {
		b.sess.Close()
	}
}

// ─── Project binding ─────────────────────────────────────────────────────────

// Bind loads the catalog of root and binds it to sess, clearing the
// session cache. clientCwd, when set, replaces the agent's working
// directory; otherwise the project root is used. Returns the catalog and
// the number of dropped cache entries.
func (r *Registry) Bind(sess *resolve.Session, root, clientCwd string) (*catalog.Catalog, int, error) {
	if r.catalogs == nil {
		return nil, 0, errors.New("no catalog store configured")
	}
	cat, err := r.catalogs.Load(root)
	if err != nil {
		return nil, 0, err
	}
	if clientCwd == "" {
		clientCwd = cat.Root
	}
	sess.SetClientCwd(clientCwd)

	r.mu.Lock()
	var stale *catalog.Watcher
	b := r.bindingLocked(sess)
	prev := ""
	if b != nil && b.root != cat.Root {
		prev = b.root
		stale = r.releaseLocked(b.root)
		b.root = cat.Root
		r.acquireLocked(cat.Root)
	}
	r.mu.Unlock()
	r.closeWatcher(prev, stale)

	dropped := sess.SwitchProject(cat)
	r.logger.Info("project bound",
		zap.String("session", sess.ID),
		zap.String("project", cat.Project),
		zap.String("root", cat.Root),
		zap.Int("dropped", dropped))
	return cat, dropped, nil
}

func (r *Registry) bindingLocked(sess *resolve.Session) *binding {
	if r.fallback != nil && r.fallback.sess == sess {
		return r.fallback
	}
	for _, b := range r.sessions {
		if b.sess == sess {
			return b
		}
	}
	return nil
}

// acquireLocked starts watching root on its first bound session.
func (r *Registry) acquireLocked(root string) {
	if pw, ok := r.watchers[root]; ok {
		pw.refs++
		return
	}
	w, err := catalog.NewWatcher(root, r.catalogs, func(cat *catalog.Catalog) { r.reload(root, cat) }, r.logger.Named("catalog"))
	if err != nil {
		r.logger.Warn("catalog hot reload disabled", zap.String("root", root), zap.Error(err))
		r.watchers[root] = &projectWatch{refs: 1}
		return
	}
	w.Start(r.ctx)
	r.watchers[root] = &projectWatch{w: w, refs: 1}
}

// releaseLocked drops one reference to the watcher of root and returns it
// once unreferenced. The caller closes it after unlocking: a reload in
// progress needs the registry lock to finish.
func (r *Registry) releaseLocked(root string) *catalog.Watcher {
	pw, ok := r.watchers[root]
	if !ok {
		return nil
	}
	pw.refs--
	if pw.refs > 0 {
		return nil
	}
	delete(r.watchers, root)
	return pw.w
}

func (r *Registry) closeWatcher(root string, w *catalog.Watcher) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		r.logger.Warn("closing catalog watcher", zap.String("root", root), zap.Error(err))
	}
}

// reload pushes an edited catalog to every session bound to root.
func (r *Registry) reload(root string, cat *catalog.Catalog) {
	r.mu.Lock()
	var bound []*resolve.Session
	for _, b := range r.sessions {
		if b.root == root {
			bound = append(bound, b.sess)
		}
	}
	if r.fallback != nil && r.fallback.root == root {
		bound = append(bound, r.fallback.sess)
	}
	r.mu.Unlock()

	for _, sess := range bound {
		changed := sess.ReloadCatalog(cat)
		r.logger.Info("catalog reloaded",
			zap.String("session", sess.ID),
			zap.String("root", root),
			zap.Bool("policy_changed", changed))
	}
}

// Root returns the project root sess is bound to.
func (r *Registry) Root(sess *resolve.Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.bindingLocked(sess); b != nil {
		return b.root
	}
	return ""
}
