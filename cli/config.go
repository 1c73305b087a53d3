package cli

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/dagrun/dagrun/pkg/config"
)

// ConfigCmd groups configuration diagnostics.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration diagnostics",
	}
	cmd.AddCommand(configShowCmd())
	return cmd
}

var sensitiveKeyParts = []string{"password", "token", "secret"}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: "Print the configuration after defaults and DAGRUN_* environment\n" +
			"overrides, with sensitive values redacted.",
		RunE: runConfigShow,
	}
	cmd.Flags().Bool("flat", false, "Print dotted keys instead of a nested document")
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("flatten configuration: %w", err)
	}
	for _, key := range k.Keys() {
		if isSensitiveKey(key) && k.String(key) != "" {
			if err := k.Set(key, "[REDACTED]"); err != nil {
				return err
			}
		}
	}
	if flat, err := cmd.Flags().GetBool("flat"); err == nil && flat {
		return printDoc(cmd, cfg, k.All())
	}
	return printDoc(cmd, cfg, k.Raw())
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
