package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v3"

	"github.com/dagrun/dagrun/pkg/config"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// printDoc writes v to the command's stdout in the configured format.
// JSON is pretty-printed and colored on terminals.
func printDoc(cmd *cobra.Command, cfg *config.Config, v any) error {
	out, err := renderDoc(cfg, v)
	if err != nil {
		return fmt.Errorf("render output: %w", err)
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func renderDoc(cfg *config.Config, v any) ([]byte, error) {
	if cfg.CLI.Format == config.FormatYAML {
		return yaml.Marshal(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := pretty.Pretty(raw)
	if cfg.CLI.Color && isTerminal(os.Stdout) {
		out = pretty.Color(out, nil)
	}
	return out, nil
}

// statusLine writes a styled one-liner to stderr. Quiet mode drops it so
// stdout stays a clean document stream for pipelines.
func statusLine(cmd *cobra.Command, cfg *config.Config, style lipgloss.Style, format string, args ...any) {
	if cfg.CLI.Quiet {
		return
	}
	text := fmt.Sprintf(format, args...)
	if cfg.CLI.Color && isTerminal(os.Stderr) {
		text = style.Render(text)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), text)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
