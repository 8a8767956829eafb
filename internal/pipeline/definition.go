package pipeline

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Definition is a parsed pipeline: a name and an ordered list of steps
// forming a DAG through their input references.
type Definition struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one job template: the module to execute, its configuration,
// and its inputs.
type Step struct {
	Name   string               `yaml:"name"`
	Module string               `yaml:"module"`
	Config map[string]any       `yaml:"config,omitempty"`
	Inputs map[string]InputSpec `yaml:"inputs,omitempty"`
}

// InputSpec binds one input field: either From references another
// step's output as "step:output", or Value carries a literal to be
// registered under Type.
type InputSpec struct {
	From  string `yaml:"from,omitempty"`
	Value any    `yaml:"value,omitempty"`
	Type  string `yaml:"type,omitempty"`
}

// ParseDefinition validates a YAML pipeline document against the
// embedded schema and decodes it. Filename is used in error positions
// only.
func ParseDefinition(filename string, src []byte) (*Definition, error) {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("pipeline schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, src)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", filename, err)
	}
	doc := cctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Pipeline")).Unify(doc)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", filename, err)
	}

	var def Definition
	if err := yaml.Unmarshal(src, &def); err != nil {
		return nil, fmt.Errorf("decode pipeline %s: %w", filename, err)
	}
	if err := def.check(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", filename, err)
	}
	return &def, nil
}

// check enforces what the schema cannot: unique step names and input
// references naming known steps.
func (d *Definition) check() error {
	names := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if names[s.Name] {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		names[s.Name] = true
	}
	for _, s := range d.Steps {
		for field, in := range s.Inputs {
			if in.From == "" {
				continue
			}
			dep, _, err := splitRef(in.From)
			if err != nil {
				return fmt.Errorf("step %q input %q: %w", s.Name, field, err)
			}
			if !names[dep] {
				return fmt.Errorf("step %q input %q references unknown step %q", s.Name, field, dep)
			}
			if dep == s.Name {
				return fmt.Errorf("step %q input %q references itself", s.Name, field)
			}
		}
	}
	return nil
}

// splitRef parses a "step:output" reference.
func splitRef(ref string) (step, output string, err error) {
	step, output, ok := strings.Cut(ref, ":")
	if !ok || step == "" || output == "" {
		return "", "", fmt.Errorf("malformed reference %q, want \"step:output\"", ref)
	}
	return step, output, nil
}
