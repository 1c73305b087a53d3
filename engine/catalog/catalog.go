// Package catalog stores workflow and task definitions and resolves the
// references steps use to name them. Definitions arrive as YAML documents
// with an apiVersion/kind envelope, either registered directly or loaded
// from a directory source.
package catalog

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/workflow"
)

// APIVersion is the only envelope version this engine accepts.
const APIVersion = "dagrun.dev/v1"

// Envelope kinds.
const (
	KindWorkflow = "Workflow"
	KindTask     = "Task"
)

// Catalog resolves definition references at execution time. Reference
// strings accept name, name@version, namespace/name and
// namespace/name@version; an omitted version means the latest registered.
type Catalog interface {
	GetWorkflow(ref string) (*workflow.Config, error)
	GetTask(ref string) (*task.Config, error)
}

// Document is one parsed definition file before decoding into its typed
// config.
type Document struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind"       yaml:"kind"`
	Metadata   workflow.Metadata `json:"metadata"   yaml:"metadata"`
	Spec       map[string]any    `json:"spec"       yaml:"spec"`

	// Source is where the document came from, for diagnostics.
	Source string `json:"-" yaml:"-"`
}

// ParseDocument decodes one YAML document and validates its envelope.
func ParseDocument(data []byte, source string) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, core.NewError(
			fmt.Errorf("invalid definition document: %w", err),
			core.ErrConfiguration,
			map[string]any{"source": source},
		)
	}
	doc.Source = source
	if err := doc.validateEnvelope(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) validateEnvelope() error {
	if strings.TrimSpace(d.APIVersion) == "" {
		return d.envelopeErr("missing apiVersion")
	}
	if d.APIVersion != APIVersion {
		return d.envelopeErr(fmt.Sprintf("unsupported apiVersion %q, want %q", d.APIVersion, APIVersion))
	}
	if _, err := d.Component(); err != nil {
		return err
	}
	if strings.TrimSpace(d.Metadata.Name) == "" {
		return d.envelopeErr("metadata.name is required")
	}
	if len(d.Spec) == 0 {
		return d.envelopeErr("spec is required")
	}
	return nil
}

func (d *Document) envelopeErr(msg string) error {
	return core.Errorf(core.ErrConfiguration, "definition %s: %s", d.describe(), msg)
}

func (d *Document) describe() string {
	if d.Metadata.Name != "" {
		return d.Metadata.Ref().String()
	}
	if d.Source != "" {
		return d.Source
	}
	return "(unnamed)"
}

// Component maps the envelope kind onto the component taxonomy. Kind
// matching is case-insensitive.
func (d *Document) Component() (core.ComponentType, error) {
	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case strings.ToLower(KindWorkflow):
		return core.ComponentWorkflow, nil
	case strings.ToLower(KindTask):
		return core.ComponentTask, nil
	case "":
		return "", d.envelopeErr("missing kind")
	default:
		return "", d.envelopeErr(fmt.Sprintf("unsupported kind %q, want %s or %s", d.Kind, KindWorkflow, KindTask))
	}
}

// DecodeWorkflow binds the spec onto a workflow config. The envelope
// metadata is authoritative for name, namespace and version.
func (d *Document) DecodeWorkflow() (*workflow.Config, error) {
	cfg := &workflow.Config{}
	if err := decodeDefinitionSpec(d.Spec, cfg); err != nil {
		return nil, core.NewError(
			fmt.Errorf("definition %s: %w", d.describe(), err),
			core.ErrConfiguration,
			map[string]any{"source": d.Source},
		)
	}
	cfg.Name = d.Metadata.Name
	if d.Metadata.Namespace != "" {
		cfg.Namespace = d.Metadata.Namespace
	}
	if d.Metadata.Version != "" {
		cfg.Version = d.Metadata.Version
	}
	return cfg, nil
}

// DecodeTask binds the spec onto a task config. The metadata name becomes
// the task id when the spec leaves it empty.
func (d *Document) DecodeTask() (*task.Config, error) {
	cfg := &task.Config{}
	if err := decodeDefinitionSpec(d.Spec, cfg); err != nil {
		return nil, core.NewError(
			fmt.Errorf("definition %s: %w", d.describe(), err),
			core.ErrConfiguration,
			map[string]any{"source": d.Source},
		)
	}
	if cfg.ID == "" {
		cfg.ID = d.Metadata.Name
	}
	return cfg, nil
}

// decodeDefinitionSpec rejects keys the target config does not declare so
// typos surface at load time instead of silently dropping settings.
func decodeDefinitionSpec(spec map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(spec)
}
