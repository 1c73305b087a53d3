package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/orchestrator"
	"github.com/dagrun/dagrun/pkg/config"
)

// ExecuteCmd builds the workflow execute command.
func ExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a workflow",
		Long: "Load definitions from a directory and execute one workflow to\n" +
			"completion, printing the structured execution result.",
		Example: `  dagrun execute -f ./definitions -w order-pipeline --input orderId=42
  dagrun execute -f ./definitions -w shop/order-pipeline@1.2.0 --input-file inputs.json`,
		RunE: runExecute,
	}
	registerDefinitionFlags(cmd)
	registerInputFlags(cmd)
	cmd.Flags().StringP("workflow", "w", "", "Workflow reference (name, namespace/name, name@version)")
	cmd.Flags().Duration("timeout", 0, "Abort the execution after this duration")
	return cmd
}

func runExecute(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	orch, cleanup, err := buildOrchestrator(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	if timeout, err := cmd.Flags().GetDuration("timeout"); err == nil && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := orch.ExecuteRef(ctx, ref, &orchestrator.Options{Input: inputs})
	if err := printDoc(cmd, cfg, result); err != nil {
		return err
	}

	switch result.Status {
	case core.StatusSuccess:
		statusLine(cmd, cfg, successStyle, "✓ workflow %s completed in %dms", result.WorkflowID, result.TotalDurationMs)
		return nil
	case core.StatusCanceled:
		return fmt.Errorf("workflow %s canceled", result.WorkflowID)
	default:
		msg := "see errors in the result document"
		if first := result.FirstError(); first != nil {
			msg = fmt.Sprintf("%s: %s", first.Code, first.Message)
		}
		return fmt.Errorf("workflow %s failed: %s", result.WorkflowID, msg)
	}
}
