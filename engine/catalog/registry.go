package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/logger"
)

// DuplicatePolicy decides what happens when a definition is registered
// under a key that already exists.
type DuplicatePolicy string

const (
	// DuplicateError rejects the second registration.
	DuplicateError DuplicatePolicy = "error"
	// DuplicateWarn replaces the first registration and logs it.
	DuplicateWarn DuplicatePolicy = "warn"
	// DuplicateSkip keeps the first registration silently.
	DuplicateSkip DuplicatePolicy = "skip"
)

// ParseDuplicatePolicy normalizes a policy string; empty means error.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateError:
		return DuplicateError, nil
	case DuplicateWarn:
		return DuplicateWarn, nil
	case DuplicateSkip:
		return DuplicateSkip, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q, want error, warn or skip", s)
	}
}

type entry struct {
	kind        core.ComponentType
	ref         workflow.Ref
	workflow    *workflow.Config
	task        *task.Config
	source      string
	fingerprint string
}

// EntryInfo describes one registered definition for diagnostics and CLI
// listings.
type EntryInfo struct {
	Kind        core.ComponentType
	Ref         workflow.Ref
	Source      string
	Fingerprint string
}

// Registry is the in-memory definition store. Entries are keyed
// namespace/name@version per kind; a lookup without a version resolves to
// the version registered last. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	policy  DuplicatePolicy
	entries map[string]*entry
	latest  map[string]string
}

type RegistryOption func(*Registry)

// WithDuplicatePolicy sets how re-registrations of the same key behave.
func WithDuplicatePolicy(policy DuplicatePolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = policy
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policy:  DuplicateError,
		entries: map[string]*entry{},
		latest:  map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DuplicatePolicy returns the registry's duplicate handling.
func (r *Registry) DuplicatePolicy() DuplicatePolicy {
	return r.policy
}

// Apply decodes and registers one parsed document.
func (r *Registry) Apply(ctx context.Context, doc *Document) error {
	kind, err := doc.Component()
	if err != nil {
		return err
	}
	switch kind {
	case core.ComponentWorkflow:
		cfg, err := doc.DecodeWorkflow()
		if err != nil {
			recordCatalogError(ctx, "decode")
			return err
		}
		if err := cfg.Validate(ctx); err != nil {
			recordCatalogError(ctx, "validation")
			return core.NewError(
				fmt.Errorf("definition %s: %w", doc.describe(), err),
				core.ErrConfiguration,
				map[string]any{"source": doc.Source},
			)
		}
		return r.RegisterWorkflow(ctx, cfg, doc.Source)
	default:
		cfg, err := doc.DecodeTask()
		if err != nil {
			recordCatalogError(ctx, "decode")
			return err
		}
		if err := cfg.Validate(ctx); err != nil {
			recordCatalogError(ctx, "validation")
			return core.NewError(
				fmt.Errorf("definition %s: %w", doc.describe(), err),
				core.ErrConfiguration,
				map[string]any{"source": doc.Source},
			)
		}
		return r.RegisterTask(ctx, doc.Metadata.Ref(), cfg, doc.Source)
	}
}

// RegisterWorkflow adds a workflow definition under its own reference.
func (r *Registry) RegisterWorkflow(ctx context.Context, cfg *workflow.Config, source string) error {
	if cfg == nil || cfg.Name == "" {
		return core.Errorf(core.ErrConfiguration, "workflow definition needs a name")
	}
	e := &entry{kind: core.ComponentWorkflow, ref: cfg.Ref(), workflow: cfg}
	return r.register(ctx, e, source)
}

// RegisterTask adds a task definition under the given reference.
func (r *Registry) RegisterTask(ctx context.Context, ref workflow.Ref, cfg *task.Config, source string) error {
	if cfg == nil {
		return core.Errorf(core.ErrConfiguration, "task definition is nil")
	}
	if ref.Name == "" {
		return core.Errorf(core.ErrConfiguration, "task definition needs a name")
	}
	if ref.Namespace == "" {
		ref.Namespace = workflow.DefaultNamespace
	}
	e := &entry{kind: core.ComponentTask, ref: ref, task: cfg}
	return r.register(ctx, e, source)
}

func (r *Registry) register(ctx context.Context, e *entry, source string) error {
	e.source = source
	e.fingerprint = uuid.NewString()
	key := exactKey(e.kind, e.ref)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok {
		switch r.policy {
		case DuplicateSkip:
			logger.FromContext(ctx).Debug("keeping first definition for duplicate key",
				"kind", e.kind, "ref", e.ref.String(), "source", source, "kept_source", existing.source)
			recordCatalogError(ctx, "duplicate")
			return nil
		case DuplicateWarn:
			logger.FromContext(ctx).Warn("replacing definition for duplicate key",
				"kind", e.kind, "ref", e.ref.String(), "source", source, "replaced_source", existing.source)
			recordCatalogError(ctx, "duplicate")
		default:
			recordCatalogError(ctx, "duplicate")
			return core.Errorf(
				core.ErrConfiguration,
				"duplicate %s definition %s (already registered from %s)",
				e.kind, e.ref.String(), existing.source,
			).WithDetail("source", source)
		}
	}
	r.entries[key] = e
	r.latest[nameKey(e.kind, e.ref)] = e.ref.Version
	recordCatalogRegistered(ctx, e.kind)
	return nil
}

// GetWorkflow resolves a workflow reference string.
func (r *Registry) GetWorkflow(ref string) (*workflow.Config, error) {
	parsed, err := workflow.ParseRef(ref)
	if err != nil {
		return nil, core.NewError(err, core.ErrConfiguration, map[string]any{"ref": ref})
	}
	return r.Workflow(parsed)
}

// Workflow resolves a parsed workflow reference.
func (r *Registry) Workflow(ref workflow.Ref) (*workflow.Config, error) {
	e, err := r.resolve(core.ComponentWorkflow, ref)
	if err != nil {
		return nil, err
	}
	return e.workflow, nil
}

// GetTask resolves a task reference string.
func (r *Registry) GetTask(ref string) (*task.Config, error) {
	parsed, err := workflow.ParseRef(ref)
	if err != nil {
		return nil, core.NewError(err, core.ErrConfiguration, map[string]any{"ref": ref})
	}
	return r.Task(parsed)
}

// Task resolves a parsed task reference.
func (r *Registry) Task(ref workflow.Ref) (*task.Config, error) {
	e, err := r.resolve(core.ComponentTask, ref)
	if err != nil {
		return nil, err
	}
	return e.task, nil
}

func (r *Registry) resolve(kind core.ComponentType, ref workflow.Ref) (*entry, error) {
	if ref.Namespace == "" {
		ref.Namespace = workflow.DefaultNamespace
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lookup := ref
	if lookup.Version == "" {
		lookup.Version = r.latest[nameKey(kind, lookup)]
	}
	if e, ok := r.entries[exactKey(kind, lookup)]; ok {
		return e, nil
	}
	return nil, core.Errorf(core.ErrConfiguration, "%s %s is not registered", kind, ref.String()).
		WithSuggestion("check the reference spelling and that the definition directory was loaded")
}

// Entries lists registered definitions sorted by kind then reference.
func (r *Registry) Entries() []EntryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, EntryInfo{Kind: e.kind, Ref: e.ref, Source: e.source, Fingerprint: e.fingerprint})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind != infos[j].Kind {
			return infos[i].Kind < infos[j].Kind
		}
		return infos[i].Ref.String() < infos[j].Ref.String()
	})
	return infos
}

// Workflows lists all registered workflow definitions sorted by reference.
func (r *Registry) Workflows() []*workflow.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make([]*workflow.Config, 0)
	for _, e := range r.entries {
		if e.kind == core.ComponentWorkflow {
			configs = append(configs, e.workflow)
		}
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Ref().String() < configs[j].Ref().String()
	})
	return configs
}

// Count returns the total number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountByKind returns the number of definitions of one kind.
func (r *Registry) CountByKind(kind core.ComponentType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func exactKey(kind core.ComponentType, ref workflow.Ref) string {
	return string(kind) + "|" + ref.Key() + "@" + ref.Version
}

func nameKey(kind core.ComponentType, ref workflow.Ref) string {
	return string(kind) + "|" + ref.Key()
}
