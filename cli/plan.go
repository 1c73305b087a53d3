package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/orchestrator"
	"github.com/dagrun/dagrun/pkg/config"
)

type planReport struct {
	Workflow             string        `json:"workflow"             yaml:"workflow"`
	Status               string        `json:"status"               yaml:"status"`
	ParallelGroups       [][]string    `json:"parallelGroups"       yaml:"parallelGroups"`
	GraphBuildDurationMs int64         `json:"graphBuildDurationMs" yaml:"graphBuildDurationMs"`
	Errors               []*core.Error `json:"errors,omitempty"     yaml:"errors,omitempty"`
}

// PlanCmd builds the execution plan command.
func PlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show a workflow's execution plan",
		Long: "Resolve a workflow's inputs and compile its dependency graph without\n" +
			"executing anything, printing the parallel groups a real run would\n" +
			"schedule.",
		Example: `  dagrun plan -f ./definitions -w order-pipeline
  dagrun plan -f ./definitions -w order-pipeline --input region=eu`,
		RunE: runPlan,
	}
	registerDefinitionFlags(cmd)
	registerInputFlags(cmd)
	cmd.Flags().StringP("workflow", "w", "", "Workflow reference (name, namespace/name, name@version)")
	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	ref, err := workflowRefArg(cmd)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(cmd)
	if err != nil {
		return err
	}
	registry, _, err := loadCatalog(ctx, cmd)
	if err != nil {
		return err
	}

	// Dry runs never reach the executor, so no cache store is wired.
	orch := orchestrator.New(registry, orchestrator.WithConfig(cfg))
	result := orch.ExecuteRef(ctx, ref, &orchestrator.Options{Input: inputs, DryRun: true})

	report := &planReport{
		Workflow:             result.WorkflowID,
		Status:               string(result.Status),
		ParallelGroups:       result.PlannedGroups,
		GraphBuildDurationMs: result.GraphBuildDurationMs,
		Errors:               result.Errors,
	}
	if err := printDoc(cmd, cfg, report); err != nil {
		return err
	}
	if !result.Success {
		msg := "planning failed"
		if first := result.FirstError(); first != nil {
			msg = fmt.Sprintf("%s: %s", first.Code, first.Message)
		}
		return fmt.Errorf("workflow %s: %s", result.WorkflowID, msg)
	}
	statusLine(cmd, cfg, mutedStyle, "%d group(s), %d task(s)", len(report.ParallelGroups), countTasks(report.ParallelGroups))
	return nil
}

func countTasks(groups [][]string) int {
	n := 0
	for _, group := range groups {
		n += len(group)
	}
	return n
}
