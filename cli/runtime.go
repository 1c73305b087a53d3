package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dagrun/dagrun/engine/catalog"
	"github.com/dagrun/dagrun/engine/infra/cache"
	"github.com/dagrun/dagrun/engine/orchestrator"
	"github.com/dagrun/dagrun/pkg/config"
	"github.com/dagrun/dagrun/pkg/logger"
)

// duplicatePolicyFlag validates --on-duplicate at parse time.
type duplicatePolicyFlag struct {
	policy catalog.DuplicatePolicy
}

var _ pflag.Value = (*duplicatePolicyFlag)(nil)

func (f *duplicatePolicyFlag) String() string { return string(f.policy) }

func (f *duplicatePolicyFlag) Set(raw string) error {
	policy, err := catalog.ParseDuplicatePolicy(raw)
	if err != nil {
		return err
	}
	f.policy = policy
	return nil
}

func (f *duplicatePolicyFlag) Type() string { return "error|warn|skip" }

// registerDefinitionFlags adds the shared definition-loading flags.
func registerDefinitionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("definitions", "f", ".", "Directory with workflow and task definition files")
	cmd.Flags().Var(&duplicatePolicyFlag{policy: catalog.DuplicateError}, "on-duplicate", "Duplicate definition handling")
}

func duplicatePolicy(cmd *cobra.Command) catalog.DuplicatePolicy {
	if flag := cmd.Flags().Lookup("on-duplicate"); flag != nil {
		if v, ok := flag.Value.(*duplicatePolicyFlag); ok {
			return v.policy
		}
	}
	return catalog.DuplicateError
}

// newLoader builds a catalog loader from the command's definition flags.
func newLoader(cmd *cobra.Command, strict bool) (*catalog.Loader, error) {
	dir, err := cmd.Flags().GetString("definitions")
	if err != nil {
		return nil, err
	}
	registry := catalog.NewRegistry(catalog.WithDuplicatePolicy(duplicatePolicy(cmd)))
	source := catalog.NewDirectorySource(dir)
	return catalog.NewLoader(registry, source, catalog.WithStrict(strict)), nil
}

// loadCatalog loads every definition under the command's definitions
// directory and returns the filled registry.
func loadCatalog(ctx context.Context, cmd *cobra.Command) (*catalog.Registry, *catalog.LoadResult, error) {
	loader, err := newLoader(cmd, true)
	if err != nil {
		return nil, nil, err
	}
	result, err := loader.Load(ctx)
	if err != nil {
		return nil, result, err
	}
	return loader.Registry(), result, nil
}

// buildOrchestrator wires the configured cache store into an orchestrator.
// The returned cleanup drains background work and closes the store.
func buildOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	registry *catalog.Registry,
) (*orchestrator.Orchestrator, func(), error) {
	store, err := cache.NewStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache store: %w", err)
	}
	orch := orchestrator.New(registry,
		orchestrator.WithConfig(cfg),
		orchestrator.WithStore(store),
	)
	cleanup := func() {
		orch.Wait()
		if err := store.Close(); err != nil {
			logger.FromContext(ctx).Warn("closing cache store", "error", err)
		}
	}
	return orch, cleanup, nil
}

// workflowRefArg reads the required -w flag.
func workflowRefArg(cmd *cobra.Command) (string, error) {
	ref, err := cmd.Flags().GetString("workflow")
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("a workflow reference is required (use -w name, namespace/name or name@version)")
	}
	return ref, nil
}
