// Package pdp is the public policy-decision-point surface: an Enforcer
// ties together the model parser, policy store, role manager, expression
// evaluator, and persistence adapter into the enforcement pipeline (C7)
// and the Management API (C8) described by the specification.
//
// An Enforcer is not safe for concurrent use by itself -- it is built
// for a caller that already serialises access (spec §4.11
// "Unsynchronised"). Wrap one with internal/concurrency.Synchronised or
// internal/concurrency.Distributed to share an instance across
// goroutines or processes.
package pdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/pdp/internal/adapter"
	"github.com/authz-engine/pdp/internal/cache"
	"github.com/authz-engine/pdp/internal/dispatcher"
	"github.com/authz-engine/pdp/internal/enforcepipe"
	"github.com/authz-engine/pdp/internal/expr"
	"github.com/authz-engine/pdp/internal/metrics"
	"github.com/authz-engine/pdp/internal/pstore"
	"github.com/authz-engine/pdp/internal/rbac"
	"github.com/authz-engine/pdp/internal/watcher"
	"github.com/authz-engine/pdp/pkg/model"
)

// Config carries the lifecycle toggles the specification names in §6.
type Config struct {
	EnableEnforce               bool
	EnableLog                   bool
	EnableAutoSave              bool
	EnableAutoBuildRoleLinks    bool
	EnableAutoNotifyWatcher     bool
	EnableAutoNotifyDispatcher  bool
	EnableAcceptJSONRequest     bool
}

// DefaultConfig returns the configuration a freshly constructed Enforcer
// uses: enforcement on, auto role-link rebuild on, auto-save and
// auto-notify on whenever a collaborator is attached.
func DefaultConfig() Config {
	return Config{
		EnableEnforce:              true,
		EnableAutoBuildRoleLinks:   true,
		EnableAutoSave:             true,
		EnableAutoNotifyWatcher:    true,
		EnableAutoNotifyDispatcher: true,
	}
}

// changeTracker records just enough about the current state to support
// the distributed reconciliation tie-break of spec §4.11: total rule
// count and the timestamp of the most recent mutation. The teacher's
// multi-version history (VersionStore.ListVersions/GetVersion) is
// deliberately not reproduced here -- spec.md's Non-goals name "no
// multi-version policy history" directly; only the latest snapshot's
// metadata survives.
type changeTracker struct {
	mu            sync.Mutex
	policyCount   int
	lastChangedAt time.Time
}

func (c *changeTracker) touch(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyCount = count
	c.lastChangedAt = time.Now()
}

func (c *changeTracker) snapshot() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policyCount, c.lastChangedAt
}

// Enforcer is the policy-decision point: one Model, one policy store, one
// grouping store, one role Manager per role definition, and the
// collaborators (adapter, watcher, dispatcher, cache) it was built with.
type Enforcer struct {
	cfg    Config
	logger *zap.Logger
	metrics metrics.Metrics

	model *model.Model

	policies  *pstore.Store
	grouping  *pstore.Store

	roleManagers map[string]*rbac.Manager
	registry     *expr.Registry
	exprEngine   *expr.Engine

	adapter    interface{}
	adapterCap adapter.Capabilities

	watch watcher.Watcher
	disp  dispatcher.Dispatcher

	cache cache.Cache

	changes changeTracker

	// nodeName identifies this instance in distributed reconciliation
	// tie-breaks (spec §4.11: "ties are broken by peer node name").
	nodeName string
}

// Option configures an Enforcer at construction time.
type Option func(*Enforcer)

func WithConfig(cfg Config) Option        { return func(e *Enforcer) { e.cfg = cfg } }
func WithLogger(l *zap.Logger) Option     { return func(e *Enforcer) { e.logger = l } }
func WithMetrics(m metrics.Metrics) Option { return func(e *Enforcer) { e.metrics = m } }
func WithAdapter(a interface{}) Option    { return func(e *Enforcer) { e.adapter = a } }
func WithWatcher(w watcher.Watcher) Option { return func(e *Enforcer) { e.watch = w } }
func WithDispatcher(d dispatcher.Dispatcher) Option { return func(e *Enforcer) { e.disp = d } }
func WithCache(c cache.Cache) Option       { return func(e *Enforcer) { e.cache = c } }
func WithNodeName(name string) Option     { return func(e *Enforcer) { e.nodeName = name } }

// NewEnforcer parses modelText (the model configuration text, spec §6)
// and builds an Enforcer over it. The policy store starts empty; call
// LoadPolicy to populate it from the configured adapter.
func NewEnforcer(modelText string, opts ...Option) (*Enforcer, error) {
	m, err := model.ParseString(modelText)
	if err != nil {
		return nil, fmt.Errorf("pdp: parsing model: %w", err)
	}
	return newEnforcer(m, opts...)
}

// NewEnforcerFromFile is NewEnforcer reading the model from a file path.
func NewEnforcerFromFile(modelPath string, opts ...Option) (*Enforcer, error) {
	m, err := model.ParseFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("pdp: parsing model file: %w", err)
	}
	return newEnforcer(m, opts...)
}

func newEnforcer(m *model.Model, opts ...Option) (*Enforcer, error) {
	e := &Enforcer{
		cfg:          DefaultConfig(),
		logger:       zap.NewNop(),
		metrics:      metrics.NoOp{},
		model:        m,
		policies:     pstore.New(),
		grouping:     pstore.New(),
		roleManagers: make(map[string]*rbac.Manager),
		registry:     expr.NewRegistry(),
		adapter:      nil,
		disp:         dispatcher.NoOp{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.NoOp{}
	}
	if e.disp == nil {
		e.disp = dispatcher.NoOp{}
	}

	for _, name := range m.RoleNames() {
		arity, _ := m.RoleArity(name)
		e.roleManagers[name] = rbac.New(rbac.Config{
			SupportsDomain:    arity == 3,
			SupportsCondition: true,
			SupportsContext:   true,
		})
	}

	if err := e.rebuildExprEngine(); err != nil {
		return nil, err
	}
	if e.adapter != nil {
		e.adapterCap = adapter.Probe(e.adapter)
	}
	if e.watch != nil {
		e.watch.SetUpdateCallback(func() {
			if err := e.LoadPolicy(); err != nil {
				e.logger.Warn("pdp: watcher-triggered reload failed", zap.Error(err))
			}
		})
	}
	return e, nil
}

func (e *Enforcer) rebuildExprEngine() error {
	resolvers := make(map[string]expr.RoleResolver, len(e.roleManagers))
	for name, rm := range e.roleManagers {
		resolvers[name] = rm
	}
	eng, err := expr.NewEngine(e.model, resolvers, e.registry)
	if err != nil {
		return fmt.Errorf("pdp: building expression engine: %w", err)
	}
	e.exprEngine = eng
	return nil
}

// RegisterFunction adds a custom matcher predicate (spec §4.2
// extensibility). Registering a brand new name rebuilds the expression
// engine, since CEL overloads are fixed at environment-construction
// time; replacing an existing name's handler takes effect immediately.
func (e *Enforcer) RegisterFunction(name string, arity int, fn expr.CustomFunc) error {
	_, existed := e.registry.Names()[name]
	e.registry.Register(name, arity, fn)
	if existed {
		return nil
	}
	return e.rebuildExprEngine()
}

// RegisterCondition registers a named condition function against the
// role manager backing roleDef (e.g. "g"), for conditional-link
// evaluation (spec §4.4).
func (e *Enforcer) RegisterCondition(roleDef, name string, fn rbac.ConditionFunc) error {
	rm, ok := e.roleManagers[roleDef]
	if !ok {
		return fmt.Errorf("pdp: unknown role definition %q", roleDef)
	}
	rm.RegisterCondition(name, fn)
	return nil
}

// Model returns the parsed model this Enforcer was built from.
func (e *Enforcer) Model() *model.Model { return e.model }

// EnableEnforce toggles the "enabled" switch from spec §4.7 step 1.
func (e *Enforcer) EnableEnforce(enabled bool) { e.cfg.EnableEnforce = enabled }

// EnableAutoSave toggles whether mutations persist through the adapter.
func (e *Enforcer) EnableAutoSave(enabled bool) { e.cfg.EnableAutoSave = enabled }

// EnableAutoBuildRoleLinks toggles whether grouping mutations rebuild
// the role graph automatically.
func (e *Enforcer) EnableAutoBuildRoleLinks(enabled bool) { e.cfg.EnableAutoBuildRoleLinks = enabled }

// EnableAutoNotifyWatcher toggles watcher notification on mutation.
func (e *Enforcer) EnableAutoNotifyWatcher(enabled bool) { e.cfg.EnableAutoNotifyWatcher = enabled }

// EnableAutoNotifyDispatcher toggles dispatcher notification on mutation.
func (e *Enforcer) EnableAutoNotifyDispatcher(enabled bool) { e.cfg.EnableAutoNotifyDispatcher = enabled }

// EnableAcceptJSONRequest toggles whether request fields carrying a JSON
// object are bound into the matcher as structured maps rather than opaque
// strings.
func (e *Enforcer) EnableAcceptJSONRequest(enabled bool) { e.cfg.EnableAcceptJSONRequest = enabled }

// Enforce evaluates a request tuple against the "r"/"p"/"m"/"e"
// definitions (spec §4.7). enabled==false (step 1) returns true
// unconditionally.
func (e *Enforcer) Enforce(ctx context.Context, fields ...string) (bool, error) {
	res, err := e.EnforceEx(ctx, fields...)
	return res.Allowed, err
}

// EnforceResult is the extended outcome: the decision plus, in store
// order, every rule that matched the compiled matcher.
type EnforceResult struct {
	// RequestID correlates this decision across logs/metrics/explanations;
	// a fresh one is minted per call (google/uuid), never persisted.
	RequestID   string
	Allowed     bool
	Matched     []enforcepipe.MatchedRule
	Explanation []string
}

// EnforceEx is Enforce returning the matching rules too (spec §4.7,
// "extended form").
func (e *Enforcer) EnforceEx(ctx context.Context, fields ...string) (EnforceResult, error) {
	return e.enforceNamed(ctx, "r", "p", "m", "e", "", fields)
}

// EnforceWithMatcher overrides the compiled matcher for this call only,
// compiling (and caching, by expression text) it on first use.
func (e *Enforcer) EnforceWithMatcher(ctx context.Context, matcherExpr string, fields ...string) (EnforceResult, error) {
	return e.enforceNamed(ctx, "r", "p", "m", "e", matcherExpr, fields)
}

// EnforceNamed evaluates against an explicitly chosen request/policy/
// matcher/effect definition quartet, for models declaring more than one
// (r2/p2/m2/e2, ...).
func (e *Enforcer) EnforceNamed(ctx context.Context, reqDef, policyDef, matcherDef, effectDef string, fields ...string) (EnforceResult, error) {
	return e.enforceNamed(ctx, reqDef, policyDef, matcherDef, effectDef, "", fields)
}

func (e *Enforcer) enforceNamed(ctx context.Context, reqDef, policyDef, matcherDef, effectDef, matcherOverride string, fields []string) (EnforceResult, error) {
	start := time.Now()
	requestID := uuid.NewString()
	if !e.cfg.EnableEnforce {
		return EnforceResult{RequestID: requestID, Allowed: true, Explanation: []string{"enforcer disabled"}}, nil
	}

	cacheable := e.cache != nil && matcherOverride == ""
	var cacheKey string
	if cacheable {
		cacheKey = fingerprint(reqDef, policyDef, matcherDef, effectDef, fields)
		if allowed, ok := e.cache.Get(cacheKey); ok {
			e.metrics.RecordCacheHit()
			return EnforceResult{RequestID: requestID, Allowed: allowed}, nil
		}
		e.metrics.RecordCacheMiss()
	}

	candidates := e.policies.Get(policyDef)
	res, err := enforcepipe.Run(e.model, e.exprEngine, enforcepipe.Request{
		RequestDef:  reqDef,
		PolicyDef:   policyDef,
		MatcherDef:  matcherDef,
		EffectDef:   effectDef,
		Fields:      fields,
		MatcherExpr: matcherOverride,
		AcceptJSON:  e.cfg.EnableAcceptJSONRequest,
	}, candidates)
	if err != nil {
		return EnforceResult{}, err
	}

	for range res.Explanation {
		e.metrics.RecordEvaluationError("matcher")
	}
	e.metrics.RecordCheck(decisionLabel(res.Allowed), time.Since(start))
	if e.cfg.EnableLog {
		e.logger.Info("pdp: enforce",
			zap.String("request_id", requestID),
			zap.Strings("request", fields),
			zap.Bool("allowed", res.Allowed),
			zap.Int("matched", len(res.Matched)))
	}
	if cacheable {
		e.cache.Set(cacheKey, res.Allowed)
	}

	return EnforceResult{RequestID: requestID, Allowed: res.Allowed, Matched: res.Matched, Explanation: res.Explanation}, nil
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// fingerprint derives a decision-cache key from a request tuple. It is
// deliberately not a cryptographic hash -- collisions across definition
// names are impossible since the definition names themselves are part
// of the key, and within one definition it is just a delimited join.
func fingerprint(reqDef, policyDef, matcherDef, effectDef string, fields []string) string {
	var b []byte
	b = append(b, reqDef...)
	b = append(b, '\x1f')
	b = append(b, policyDef...)
	b = append(b, '\x1f')
	b = append(b, matcherDef...)
	b = append(b, '\x1f')
	b = append(b, effectDef...)
	for _, f := range fields {
		b = append(b, '\x1f')
		b = append(b, f...)
	}
	return string(b)
}

// BatchEnforce runs Enforce over many requests concurrently, bounding
// goroutine fan-out the way the teacher's engine.WorkerPool/CheckBatch
// does (see DESIGN.md) rather than one goroutine per request.
func (e *Enforcer) BatchEnforce(ctx context.Context, requests [][]string) ([]bool, error) {
	results := make([]bool, len(requests))
	errs := make([]error, len(requests))

	const maxWorkers = 32
	workers := maxWorkers
	if len(requests) < workers {
		workers = len(requests)
	}
	if workers == 0 {
		return results, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				allowed, err := e.Enforce(ctx, requests[idx]...)
				results[idx] = allowed
				errs[idx] = err
			}
		}()
	}
	for i := range requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
