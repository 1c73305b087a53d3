package resilience

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/executor"
	"github.com/dagrun/dagrun/engine/infra/cache"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/config"
	"github.com/dagrun/dagrun/pkg/logger"
)

// Runner executes one resolved single attempt. *executor.Executor is the
// production implementation.
type Runner interface {
	Execute(ctx context.Context, req *executor.Request) *executor.Response
}

// Plan is one task launch through the stack with every template already
// resolved, so repeated attempts and background refreshes replay the exact
// same request.
type Plan struct {
	Step     *workflow.Step
	Request  *executor.Request
	Fallback *executor.Request
	// CacheKey is the resolved user key template; empty means derive.
	CacheKey string
	// BypassCache is the resolved bypassWhen truthiness. It skips the
	// cache read and the write.
	BypassCache bool
	// BreakerScope prefixes execution-scoped breaker keys, normally the
	// execution id. Global-scoped policies ignore it.
	BreakerScope string
}

func (p *Plan) retryPolicy() *task.RetryPolicy {
	if p.Step == nil {
		return nil
	}
	return p.Step.Retry
}

func (p *Plan) breakerPolicy() *task.CircuitBreakerPolicy {
	if p.Step == nil {
		return nil
	}
	return p.Step.CircuitBreaker
}

func (p *Plan) cachePolicy() *task.CachePolicy {
	if p.Step == nil {
		return nil
	}
	return p.Step.Cache
}

// Outcome is the stack's verdict for one launch, folded into the task
// result by the scheduler.
type Outcome struct {
	Response     *executor.Response
	Attempts     []*core.Error
	RetryCount   int
	CacheHit     bool
	UsedFallback bool
	FallbackRef  string
	Breaker      *task.BreakerSnapshot
}

// Stack wires cache, circuit breaker and retry around a Runner. Safe for
// concurrent use; the breaker table and store may be shared across
// executions.
type Stack struct {
	runner          Runner
	breakers        *BreakerTable
	store           cache.Store
	clock           core.Clock
	retryDefaults   config.RetryConfig
	breakerDefaults config.CircuitBreakerConfig
	cacheTTL        time.Duration
	cacheable       methodSet

	mu         sync.Mutex
	refreshing map[string]struct{}
	wg         sync.WaitGroup
}

// NewStack builds the fault-tolerance stack. A nil cfg falls back to the
// built-in defaults; a nil store disables caching.
func NewStack(runner Runner, breakers *BreakerTable, store cache.Store, clock core.Clock, cfg *config.Config) *Stack {
	if cfg == nil {
		cfg = config.Default()
	}
	if clock == nil {
		clock = core.SystemClock()
	}
	if breakers == nil {
		breakers = NewBreakerTable(clock)
	}
	return &Stack{
		runner:          runner,
		breakers:        breakers,
		store:           store,
		clock:           clock,
		retryDefaults:   cfg.Resilience.Retry,
		breakerDefaults: cfg.Resilience.CircuitBreaker,
		cacheTTL:        cfg.Cache.TTL,
		cacheable:       newMethodSet(cfg.Cache.CacheableMethods),
		refreshing:      map[string]struct{}{},
	}
}

// Run executes the plan through cache, breaker, retry and fallback.
func (s *Stack) Run(ctx context.Context, plan *Plan) *Outcome {
	key, useCache := s.cacheKey(plan)
	if useCache && !plan.BypassCache {
		if cached, ok := s.lookup(ctx, plan, key); ok {
			return s.maybeFallback(ctx, plan, cached)
		}
	}
	out := s.protect(ctx, plan)
	if useCache && !plan.BypassCache {
		s.maybeStore(ctx, plan, key, out)
	}
	return s.maybeFallback(ctx, plan, out)
}

// Wait blocks until background stale refreshes have drained.
func (s *Stack) Wait() {
	s.wg.Wait()
}

// -----------------------------------------------------------------------------
// Circuit breaker + retry
// -----------------------------------------------------------------------------

func (s *Stack) protect(ctx context.Context, plan *Plan) *Outcome {
	out := &Outcome{}
	policy := plan.breakerPolicy()
	var key string
	var settings BreakerSettings
	if policy != nil {
		key = s.breakerKey(plan, policy)
		settings = breakerSettings(policy, s.breakerDefaults)
		if _, admitted := s.breakers.Admit(ctx, key, settings); !admitted {
			now := s.clock.Now()
			rejection := core.Errorf(core.ErrCircuitOpen, "circuit for task %s is open", plan.Request.TaskRef).
				WithTiming(now, 0)
			out.Response = &executor.Response{Error: rejection, StartedAt: now, CompletedAt: now}
			out.Attempts = append(out.Attempts, rejection)
			out.Breaker = s.breakers.Snapshot(key)
			recordBreakerRejection(ctx)
			return out
		}
	}

	resp, attempts, retries := s.runRetry(ctx, plan)
	out.Response = resp
	out.Attempts = attempts
	out.RetryCount = retries

	if policy != nil {
		// One outcome per protected call; cancellations are neither
		// service successes nor service failures.
		switch {
		case resp.Error == nil:
			s.breakers.RecordSuccess(ctx, key, settings)
		case resp.Error.Code != core.ErrCanceled:
			s.breakers.RecordFailure(ctx, key, settings)
		}
		out.Breaker = s.breakers.Snapshot(key)
	}
	return out
}

func (s *Stack) breakerKey(plan *Plan, policy *task.CircuitBreakerPolicy) string {
	scope := plan.BreakerScope
	if policy.GetScope() == task.ScopeGlobal {
		scope = "global"
	}
	if scope == "" {
		scope = "execution"
	}
	return scope + "|" + plan.Request.TaskRef
}

// -----------------------------------------------------------------------------
// Fallback
// -----------------------------------------------------------------------------

func (s *Stack) maybeFallback(ctx context.Context, plan *Plan, out *Outcome) *Outcome {
	if out.Response.Error == nil || plan.Fallback == nil {
		return out
	}
	// A cancelled execution should read as cancelled, not rescued.
	if out.Response.Error.Code == core.ErrCanceled {
		return out
	}
	resp := s.runner.Execute(ctx, plan.Fallback)
	recordFallback(ctx, resp.Error == nil)
	if resp.Error != nil {
		out.Attempts = append(out.Attempts, resp.Error)
		return out
	}
	out.Response = resp
	out.UsedFallback = true
	out.FallbackRef = plan.Fallback.TaskRef
	return out
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

// DeriveCacheKey is the default key for HTTP results when the cache block
// does not set one: taskRef|method|url|sha256(body).
func DeriveCacheKey(taskRef, method, rawURL string, body any) string {
	return taskRef + "|" + method + "|" + rawURL + "|" + core.ETagFromAny(body)
}

// cacheKey decides whether this plan is cacheable and under which key.
// HTTP calls must use a method from the cacheable set; other task kinds
// cache only under an explicit user key.
func (s *Stack) cacheKey(plan *Plan) (string, bool) {
	if s.store == nil || plan.cachePolicy() == nil {
		return "", false
	}
	req := plan.Request
	if req.HTTP != nil {
		method := strings.ToUpper(strings.TrimSpace(req.HTTP.Method))
		if method == "" {
			method = "GET"
		}
		if !s.cacheable.has(method) {
			return "", false
		}
		if plan.CacheKey != "" {
			return plan.CacheKey, true
		}
		return DeriveCacheKey(req.TaskRef, method, req.HTTP.URL, req.HTTP.Body), true
	}
	if plan.CacheKey != "" {
		return plan.CacheKey, true
	}
	return "", false
}

func (s *Stack) lookup(ctx context.Context, plan *Plan, key string) (*Outcome, bool) {
	entry, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("cache read failed, executing instead", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		recordStackCache(ctx, "miss")
		return nil, false
	}
	state := entry.State(s.clock.Now())
	if state == cache.Expired {
		recordStackCache(ctx, "miss")
		return nil, false
	}
	if state == cache.Stale {
		s.refresh(ctx, plan, key)
	}
	recordStackCache(ctx, state.String())

	now := s.clock.Now()
	resp := &executor.Response{StartedAt: now, CompletedAt: now}
	if entry.Error != nil {
		resp.Error = entry.Error
	} else {
		out := core.Output(entry.Value)
		resp.Output = &out
	}
	return &Outcome{Response: resp, CacheHit: true}, true
}

// refresh runs one background pass through breaker and retry for a stale
// key. Concurrent stale hits coalesce into a single refresh.
func (s *Stack) refresh(ctx context.Context, plan *Plan, key string) {
	s.mu.Lock()
	if _, busy := s.refreshing[key]; busy {
		s.mu.Unlock()
		return
	}
	s.refreshing[key] = struct{}{}
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()
		recordStackRefresh(bg)
		out := s.protect(bg, plan)
		s.maybeStore(bg, plan, key, out)
	}()
}

func (s *Stack) maybeStore(ctx context.Context, plan *Plan, key string, out *Outcome) {
	if out.CacheHit {
		return
	}
	coreErr := out.Response.Error
	if coreErr != nil {
		// Rejections and cancellations are not results worth caching.
		if coreErr.Code == core.ErrCircuitOpen || coreErr.Code == core.ErrCanceled {
			return
		}
		if plan.cachePolicy().OnlySuccess() {
			return
		}
	}
	entry := &cache.Entry{
		StoredAt: s.clock.Now(),
		TTL:      plan.cachePolicy().TTLOr(s.cacheTTL),
		StaleTTL: plan.cachePolicy().StaleTTLOr(0),
	}
	if coreErr != nil {
		entry.Error = coreErr
	} else {
		entry.Value = out.Response.Output.AsMap()
	}
	if err := s.store.Set(ctx, key, entry); err != nil {
		logger.FromContext(ctx).Warn("cache write failed", "key", key, "error", err)
	}
}

// -----------------------------------------------------------------------------
// Cacheable method set
// -----------------------------------------------------------------------------

type methodSet uint16

var methodBits = map[string]methodSet{
	"GET":     1 << 0,
	"HEAD":    1 << 1,
	"POST":    1 << 2,
	"PUT":     1 << 3,
	"DELETE":  1 << 4,
	"PATCH":   1 << 5,
	"OPTIONS": 1 << 6,
}

func newMethodSet(methods []string) methodSet {
	var set methodSet
	for _, m := range methods {
		set |= methodBits[strings.ToUpper(strings.TrimSpace(m))]
	}
	if set == 0 {
		set = methodBits["GET"]
	}
	return set
}

func (m methodSet) has(method string) bool {
	return m&methodBits[method] != 0
}
